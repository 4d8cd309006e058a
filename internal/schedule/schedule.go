// Package schedule computes the target number of concurrent workers for a
// load test as a function of elapsed time.
//
// A staged schedule is an ordered list of [Stage] values laid end to end.
// Each stage ramps linearly from the level reached at the end of the previous
// stage (0 for the first stage) to its own target over its duration. After the
// last stage the schedule holds the final target indefinitely.
//
// A fixed schedule (see [Fixed]) reports the same worker count for the whole
// run.
//
// Interpolated levels are rounded to the nearest integer, ties away from zero.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNoStages is returned by New when the stage list is empty.
var ErrNoStages = errors.New("at least one stage is required")

// Stage is one time-boxed ramp towards Target.
type Stage struct {
	Duration time.Duration
	Target   int
}

func (s Stage) String() string {
	return fmt.Sprintf("%s:%d", s.Duration, s.Target)
}

type segment struct {
	start    time.Duration
	duration time.Duration
	from     int
	to       int
}

// Schedule is immutable after construction and safe for concurrent reads.
type Schedule struct {
	stages   []Stage
	segments []segment
	duration time.Duration
	fixed    bool
	level    int
	peak     int
}

// New builds a staged schedule. Durations and targets must be non-negative.
func New(stages []Stage) (*Schedule, error) {
	if len(stages) == 0 {
		return nil, ErrNoStages
	}
	var issues []string
	for idx, st := range stages {
		if st.Duration < 0 {
			issues = append(issues, fmt.Sprintf("stages[%d]: duration must be >= 0", idx))
		}
		if st.Target < 0 {
			issues = append(issues, fmt.Sprintf("stages[%d]: target must be >= 0", idx))
		}
	}
	if len(issues) > 0 {
		return nil, fmt.Errorf("invalid schedule: %s", strings.Join(issues, "; "))
	}

	s := &Schedule{
		stages:   append([]Stage(nil), stages...),
		segments: make([]segment, 0, len(stages)),
	}
	var offset time.Duration
	from := 0
	for _, st := range stages {
		s.segments = append(s.segments, segment{
			start:    offset,
			duration: st.Duration,
			from:     from,
			to:       st.Target,
		})
		if st.Target > s.peak {
			s.peak = st.Target
		}
		offset += st.Duration
		from = st.Target
	}
	s.duration = offset
	return s, nil
}

// Fixed builds a schedule that keeps workers running for duration.
func Fixed(workers int, duration time.Duration) (*Schedule, error) {
	if workers < 0 {
		return nil, fmt.Errorf("invalid schedule: workers must be >= 0")
	}
	if duration < 0 {
		return nil, fmt.Errorf("invalid schedule: duration must be >= 0")
	}
	return &Schedule{
		duration: duration,
		fixed:    true,
		level:    workers,
		peak:     workers,
	}, nil
}

// TargetAt returns the number of workers that should be running once elapsed
// has passed since the start of the run. Negative values are treated as zero.
func (s *Schedule) TargetAt(elapsed time.Duration) int {
	if s == nil {
		return 0
	}
	if s.fixed {
		return s.level
	}
	if elapsed < 0 {
		elapsed = 0
	}
	for _, seg := range s.segments {
		end := seg.start + seg.duration
		if elapsed >= end {
			continue
		}
		// Zero-length segments never reach here: elapsed >= start == end.
		if seg.from == seg.to {
			return seg.to
		}
		progress := float64(elapsed-seg.start) / float64(seg.duration)
		return interpolate(seg.from, seg.to, progress)
	}
	return s.segments[len(s.segments)-1].to
}

func interpolate(from, to int, progress float64) int {
	if progress <= 0 {
		return from
	}
	if progress >= 1 {
		return to
	}
	value := float64(from) + float64(to-from)*progress
	return int(math.Round(value))
}

// TotalDuration is the sum of all stage durations, or the run duration of a
// fixed schedule.
func (s *Schedule) TotalDuration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// Stages returns a copy of the configured stages. Fixed schedules have none.
func (s *Schedule) Stages() []Stage {
	if s == nil || len(s.stages) == 0 {
		return nil
	}
	return append([]Stage(nil), s.stages...)
}

// StageAt returns the index of the stage active at elapsed, or -1 once the
// schedule has finished or for fixed schedules.
func (s *Schedule) StageAt(elapsed time.Duration) int {
	if s == nil || s.fixed {
		return -1
	}
	if elapsed < 0 {
		elapsed = 0
	}
	for idx, seg := range s.segments {
		if elapsed < seg.start+seg.duration {
			return idx
		}
	}
	return -1
}

// MaxTarget is the highest worker count the schedule ever asks for.
func (s *Schedule) MaxTarget() int {
	if s == nil {
		return 0
	}
	return s.peak
}

func (s *Schedule) IsFixed() bool {
	return s != nil && s.fixed
}

func (s *Schedule) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.fixed {
		return fmt.Sprintf("%d workers for %s", s.level, s.duration)
	}
	parts := make([]string, len(s.stages))
	for i, st := range s.stages {
		parts[i] = st.String()
	}
	return strings.Join(parts, " -> ")
}

// ParseStage parses the compact "duration:target" form, e.g. "30s:10".
func ParseStage(raw string) (Stage, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return Stage{}, fmt.Errorf("stage %q must be in duration:target form", raw)
	}
	dur, err := time.ParseDuration(strings.TrimSpace(parts[0]))
	if err != nil {
		return Stage{}, fmt.Errorf("stage %q: duration: %w", raw, err)
	}
	target, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Stage{}, fmt.Errorf("stage %q: target: %w", raw, err)
	}
	return Stage{Duration: dur, Target: target}, nil
}
