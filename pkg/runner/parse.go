package runner

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/godispatch/offload/pkg/dispatch"
)

// parseProgressEvery is how many decoded elements go by between progress
// reports.
const parseProgressEvery = 1024

// Parse decodes a large JSON array of messages into its elements, streaming
// through the input instead of reflecting over a target type.
type Parse struct{}

func (Parse) Run(_ context.Context, env dispatch.Envelope, report func(any)) (any, error) {
	var data []byte
	switch v := env.Payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil, errors.Errorf("parse payload must be []byte or string, got %T", env.Payload)
	}

	it := jsoniter.ParseBytes(jsoniter.ConfigFastest, data)
	if it.WhatIsNext() != jsoniter.ArrayValue {
		return nil, errors.New("payload is not a JSON array")
	}

	items := []any{}
	it.ReadArrayCB(func(it *jsoniter.Iterator) bool {
		items = append(items, it.Read())
		if len(items)%parseProgressEvery == 0 {
			report(len(items))
		}
		return it.Error == nil
	})
	if it.Error != nil {
		return nil, errors.Wrap(it.Error, "parsing message batch")
	}
	return items, nil
}
