package check

import (
	"fmt"
	"regexp"

	"github.com/torosent/rampfire/internal/runner"
)

// BodyMatches passes when the response body matches pattern.
func BodyMatches(pattern string) (Check, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Check{}, fmt.Errorf("body check %q: %w", pattern, err)
	}
	return Check{
		Name: "body matches " + pattern,
		eval: func(resp *runner.Response) bool { return re.Match(resp.Body) },
	}, nil
}
