package scheduler

import (
	"context"
	"sort"

	"inzikt/internal/types"
)

// HandlerFunc performs one run of a scheduled job. It receives the job's
// parameters verbatim and returns an opaque result.
type HandlerFunc func(ctx context.Context, params types.JobParams) (types.JobResult, error)

// Registry maps job types to handlers. It is built once at startup and never
// mutated, so the tick and the run-now path always resolve the same handler.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry copies handlers into an immutable registry. Nil handlers are
// dropped.
func NewRegistry(handlers map[string]HandlerFunc) *Registry {
	m := make(map[string]HandlerFunc, len(handlers))
	for k, h := range handlers {
		if h != nil {
			m[k] = h
		}
	}
	return &Registry{handlers: m}
}

func (r *Registry) Lookup(jobType string) (HandlerFunc, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists registered job types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
