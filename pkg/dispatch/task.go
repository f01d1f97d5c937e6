package dispatch

import (
	"github.com/oklog/ulid/v2"
)

// Kind identifies the computation a task requests. The set is open: any
// non-empty kind is accepted by the dispatcher and routed opaquely to the
// execution unit, which decides whether it can run it.
type Kind string

// Well-known kinds with built-in runners in pkg/runner.
const (
	KindDecompress     Kind = "decompress"
	KindProcessBatch   Kind = "process_batch"
	KindParseLargeData Kind = "parse_large_data"
	KindComputeLayout  Kind = "compute_layout"
)

// Task is a typed, immutable unit of requested work. The payload and options
// are opaque to the dispatcher; they are forwarded to the execution unit
// unchanged. Ownership passes to the dispatcher once Submit accepts the task
// and returns to the caller with the resolved outcome.
type Task struct {
	ID      ulid.ULID
	Kind    Kind
	Payload any
	Options any
}

// NewTask builds a task of the given kind with a fresh ULID.
func NewTask(kind Kind, payload any) Task {
	return Task{
		ID:      ulid.Make(),
		Kind:    kind,
		Payload: payload,
	}
}

// WithOptions returns a copy of the task carrying the given options.
func (t Task) WithOptions(options any) Task {
	t.Options = options
	return t
}

// DecompressTask requests decompression of data. The encoding names the
// compression scheme ("gzip", "zlib", "snappy", "zstd" or "none").
func DecompressTask(data []byte, encoding string) Task {
	return NewTask(KindDecompress, data).WithOptions(encoding)
}

// ProcessBatchTask requests the named transform to be applied to every item
// of the batch.
func ProcessBatchTask(items []any, transform string) Task {
	return NewTask(KindProcessBatch, items).WithOptions(transform)
}

// ParseLargeDataTask requests bulk parsing of a JSON array of messages.
func ParseLargeDataTask(data []byte) Task {
	return NewTask(KindParseLargeData, data)
}

// ComputeLayoutTask requests a layout computation for the given input,
// typically a runner.LayoutInput.
func ComputeLayoutTask(input any) Task {
	return NewTask(KindComputeLayout, input)
}
