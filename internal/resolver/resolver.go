// Package resolver turns a ranked list of provider attempts into a single
// answer for one logical quantity: first success wins, every failure reason
// is kept for diagnostics.
package resolver

import (
	"context"
	"fmt"
	"strings"
)

type Candidate[T any] struct {
	Name  string
	Fetch func(ctx context.Context) (T, error)
}

// Resolve tries candidates in order and returns the first success along with
// the winning candidate's name. When every candidate fails the error carries
// each provider's reason, "name: err" joined by "; " — nothing is swallowed.
func Resolve[T any](ctx context.Context, quantity string, candidates []Candidate[T]) (T, string, error) {
	var zero T
	if len(candidates) == 0 {
		return zero, "", fmt.Errorf("%s: no providers configured", quantity)
	}

	var failures []string
	for _, c := range candidates {
		v, err := c.Fetch(ctx)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", c.Name, err))
			continue
		}
		return v, c.Name, nil
	}
	return zero, "", fmt.Errorf("%s: %s", quantity, strings.Join(failures, "; "))
}
