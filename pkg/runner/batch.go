package runner

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/godispatch/offload/pkg/dispatch"
)

// batchProgressEvery is how many transformed items go by between progress
// reports.
const batchProgressEvery = 64

// TransformFunc transforms one item of a batch.
type TransformFunc func(item any) (any, error)

// Batch applies a named transform to every item of the submitted batch. The
// task options select the transform; the first failing item aborts the whole
// batch.
type Batch struct {
	transforms map[string]TransformFunc
}

func NewBatch(transforms map[string]TransformFunc) *Batch {
	return &Batch{transforms: transforms}
}

func (b *Batch) Run(ctx context.Context, env dispatch.Envelope, report func(any)) (any, error) {
	items, err := batchItems(env.Payload)
	if err != nil {
		return nil, err
	}

	name := ""
	if env.Options != nil {
		s, ok := env.Options.(string)
		if !ok {
			return nil, errors.Errorf("batch options must be a string transform name, got %T", env.Options)
		}
		name = s
	}
	transform, ok := b.transforms[name]
	if !ok {
		return nil, errors.Errorf("unknown batch transform %q", name)
	}

	out := make([]any, 0, len(items))
	for i, item := range items {
		// A terminated unit cancels the context; stop burning cycles on
		// a batch whose outcome nobody will see.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := transform(item)
		if err != nil {
			return nil, errors.Wrapf(err, "transforming item %d", i)
		}
		out = append(out, v)
		if (i+1)%batchProgressEvery == 0 {
			report(i + 1)
		}
	}
	return out, nil
}

func batchItems(payload any) ([]any, error) {
	switch v := payload.(type) {
	case []any:
		return v, nil
	case []byte:
		var items []any
		if err := jsoniter.ConfigFastest.Unmarshal(v, &items); err != nil {
			return nil, errors.Wrap(err, "decoding batch payload")
		}
		return items, nil
	default:
		return nil, errors.Errorf("batch payload must be []any or JSON bytes, got %T", payload)
	}
}
