// Package check evaluates named predicates against HTTP responses.
//
// A check never fails an iteration on its own: it only contributes a named
// true or false entry to the outcome. Predicates that cannot be evaluated
// (a JSON check against a non-JSON body, for example) report false.
package check

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/torosent/rampfire/internal/runner"
)

// Check is a single named predicate.
type Check struct {
	Name string
	eval func(resp *runner.Response) bool
}

// Eval runs the predicate. A nil response never passes.
func (c Check) Eval(resp *runner.Response) bool {
	if resp == nil || c.eval == nil {
		return false
	}
	return c.eval(resp)
}

// Status passes when the response status equals code. Its name follows the
// "status is 204" form.
func Status(code int) Check {
	return Check{
		Name: "status is " + strconv.Itoa(code),
		eval: func(resp *runner.Response) bool { return resp.StatusCode == code },
	}
}

// StatusClass passes for any status in the given hundred, e.g. 2 for 2xx.
func StatusClass(class int) Check {
	return Check{
		Name: fmt.Sprintf("status is %dxx", class),
		eval: func(resp *runner.Response) bool { return resp.StatusCode/100 == class },
	}
}

// Set is an ordered collection of checks. It implements runner.Checker.
type Set []Check

// Check evaluates every check in the set. Later checks with a duplicate name
// overwrite earlier results.
func (s Set) Check(resp *runner.Response) map[string]bool {
	if len(s) == 0 {
		return nil
	}
	results := make(map[string]bool, len(s))
	for _, c := range s {
		results[c.Name] = c.Eval(resp)
	}
	return results
}

// Names lists check names in configuration order.
func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Config is the declarative form of the configured checks.
type Config struct {
	Status      int      // 0 disables the status check
	StatusClass int      // 2 checks for 2xx, 0 disables
	JSONPaths   []string // "path" or "path=value"
	BodyRegex   []string
}

// Build compiles a Config into a Set, reporting every malformed entry.
func Build(cfg Config) (Set, error) {
	var set Set
	var issues []string
	if cfg.Status != 0 {
		if cfg.Status < 100 || cfg.Status > 599 {
			issues = append(issues, fmt.Sprintf("status %d out of range", cfg.Status))
		} else {
			set = append(set, Status(cfg.Status))
		}
	}
	if cfg.StatusClass != 0 {
		if cfg.StatusClass < 1 || cfg.StatusClass > 5 {
			issues = append(issues, fmt.Sprintf("status class %d out of range", cfg.StatusClass))
		} else {
			set = append(set, StatusClass(cfg.StatusClass))
		}
	}
	for _, raw := range cfg.JSONPaths {
		c, err := ParseJSONPath(raw)
		if err != nil {
			issues = append(issues, err.Error())
			continue
		}
		set = append(set, c)
	}
	for _, pattern := range cfg.BodyRegex {
		c, err := BodyMatches(pattern)
		if err != nil {
			issues = append(issues, err.Error())
			continue
		}
		set = append(set, c)
	}
	if len(issues) > 0 {
		return nil, fmt.Errorf("invalid checks: %s", strings.Join(issues, "; "))
	}
	return set, nil
}
