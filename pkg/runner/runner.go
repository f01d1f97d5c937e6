// Package runner provides the built-in computations behind the well-known
// task kinds: decompression, bulk JSON parsing, batch transformation and
// flow-layout computation. A Registry routes envelopes to runners by kind and
// is itself a unit.Runner, so it plugs straight into unit.Factory.
package runner

import (
	"context"

	"github.com/pkg/errors"

	"github.com/godispatch/offload/pkg/dispatch"
	"github.com/godispatch/offload/pkg/unit"
)

// Registry routes envelopes to the runner registered for their kind.
type Registry struct {
	runners map[dispatch.Kind]unit.Runner
}

var _ unit.Runner = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{runners: map[dispatch.Kind]unit.Runner{}}
}

// Register binds kind to r, replacing any previous registration. Registration
// is not synchronized with Run; register everything before provisioning
// units.
func (reg *Registry) Register(kind dispatch.Kind, r unit.Runner) {
	reg.runners[kind] = r
}

func (reg *Registry) Run(ctx context.Context, env dispatch.Envelope, report func(any)) (any, error) {
	r, ok := reg.runners[env.Kind]
	if !ok {
		return nil, errors.Errorf("no runner registered for task kind %q", env.Kind)
	}
	return r.Run(ctx, env, report)
}

// Default returns a registry with the built-in runners for decompression,
// bulk parsing and layout computation. Batch processing needs
// caller-supplied transforms, so a Batch must be registered explicitly.
func Default() *Registry {
	reg := NewRegistry()
	reg.Register(dispatch.KindDecompress, Decompress{})
	reg.Register(dispatch.KindParseLargeData, Parse{})
	reg.Register(dispatch.KindComputeLayout, Layout{})
	return reg
}
