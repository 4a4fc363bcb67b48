// Package health provides readiness checks for the stores the matching
// service depends on.
package health

import (
	"context"
	"fmt"
	"time"
)

// Checker reports whether a dependency can serve requests.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// DefaultTimeout bounds a single readiness check.
const DefaultTimeout = 2 * time.Second

// Named pairs a checker with the key it is reported under.
type Named struct {
	Name    string
	Checker Checker
}

// Result is the outcome of one readiness pass.
type Result struct {
	Healthy bool
	Checks  map[string]string
	Errors  map[string]error
}

// CheckAll runs every checker with its own timeout. A nil checker means the
// dependency is not configured (in-memory mode) and is reported as ok.
func CheckAll(ctx context.Context, timeout time.Duration, checkers []Named) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res := Result{Healthy: true, Checks: make(map[string]string, len(checkers)), Errors: map[string]error{}}
	for _, c := range checkers {
		if c.Checker == nil {
			res.Checks[c.Name] = "not_configured"
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Checker.HealthCheck(cctx)
		cancel()
		if err != nil {
			res.Healthy = false
			res.Checks[c.Name] = "error"
			res.Errors[c.Name] = fmt.Errorf("%s: %w", c.Name, err)
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	return res
}
