package check

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/torosent/rampfire/internal/runner"
)

// normalizePath accepts "$.field", bare "$" and plain gjson paths.
func normalizePath(path string) string {
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			return path[2:]
		}
		if len(path) == 1 {
			return "@this"
		}
	}
	return path
}

// JSONPathExists passes when path resolves in a JSON response body.
func JSONPathExists(path string) Check {
	p := normalizePath(path)
	return Check{
		Name: fmt.Sprintf("json %s exists", path),
		eval: func(resp *runner.Response) bool {
			return gjson.ValidBytes(resp.Body) && gjson.GetBytes(resp.Body, p).Exists()
		},
	}
}

// JSONPathEquals passes when path resolves to a value whose string form is want.
func JSONPathEquals(path, want string) Check {
	p := normalizePath(path)
	return Check{
		Name: fmt.Sprintf("json %s == %s", path, want),
		eval: func(resp *runner.Response) bool {
			if !gjson.ValidBytes(resp.Body) {
				return false
			}
			result := gjson.GetBytes(resp.Body, p)
			return result.Exists() && result.String() == want
		},
	}
}

// ParseJSONPath parses the "path" or "path=value" flag form.
func ParseJSONPath(raw string) (Check, error) {
	raw = strings.TrimSpace(raw)
	path, want, hasWant := strings.Cut(raw, "=")
	path = strings.TrimSpace(path)
	if path == "" {
		return Check{}, fmt.Errorf("json check %q: path is required", raw)
	}
	if !hasWant {
		return JSONPathExists(path), nil
	}
	return JSONPathEquals(path, strings.TrimSpace(want)), nil
}
