package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/godispatch/offload/pkg/dispatch"
	"github.com/godispatch/offload/pkg/unit"
)

func TestRegistryRoutesByKind(t *testing.T) {
	reg := Default()
	reg.Register(dispatch.KindProcessBatch, testBatch())

	out, err := reg.Run(context.Background(), dispatch.Envelope{
		Kind:    dispatch.KindDecompress,
		Payload: compress(t, EncodingGZIP, []byte("inflate me")),
		Options: EncodingGZIP,
	}, discardProgress)
	require.NoError(t, err)
	require.Equal(t, []byte("inflate me"), out)

	out, err = reg.Run(context.Background(), dispatch.Envelope{
		Kind:    dispatch.KindProcessBatch,
		Payload: []any{2, 3},
		Options: "double",
	}, discardProgress)
	require.NoError(t, err)
	require.Equal(t, []any{4, 6}, out)
}

func TestRegistryUnknownKind(t *testing.T) {
	_, err := Default().Run(context.Background(), dispatch.Envelope{
		Kind: "transcode_video",
	}, discardProgress)
	require.ErrorContains(t, err, `no runner registered for task kind "transcode_video"`)
}

func TestRegistryReplacesRegistration(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", unit.RunnerFunc(func(_ context.Context, env dispatch.Envelope, _ func(any)) (any, error) {
		return env.Payload, nil
	}))
	reg.Register("echo", unit.RunnerFunc(func(context.Context, dispatch.Envelope, func(any)) (any, error) {
		return "replaced", nil
	}))

	out, err := reg.Run(context.Background(), dispatch.Envelope{Kind: "echo", Payload: "original"}, discardProgress)
	require.NoError(t, err)
	require.Equal(t, "replaced", out)
}
