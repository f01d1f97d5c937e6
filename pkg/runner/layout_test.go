package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/godispatch/offload/pkg/dispatch"
)

func computeLayout(t *testing.T, payload any) LayoutResult {
	t.Helper()
	out, err := Layout{}.Run(context.Background(), dispatch.Envelope{
		Kind:    dispatch.KindComputeLayout,
		Payload: payload,
	}, discardProgress)
	require.NoError(t, err)
	return out.(LayoutResult)
}

func TestLayoutWrapsRows(t *testing.T) {
	result := computeLayout(t, LayoutInput{
		MaxWidth: 100,
		Spacing:  10,
		Items: []Box{
			{Width: 40, Height: 20},
			{Width: 40, Height: 30},
			{Width: 40, Height: 10},
			{Width: 120, Height: 5},
		},
	})

	require.Equal(t, []PlacedBox{
		{Box: Box{Width: 40, Height: 20}, X: 0, Y: 0},
		{Box: Box{Width: 40, Height: 30}, X: 50, Y: 0},
		{Box: Box{Width: 40, Height: 10}, X: 0, Y: 40},
		// Wider than MaxWidth, so it overflows on a row of its own.
		{Box: Box{Width: 120, Height: 5}, X: 0, Y: 60},
	}, result.Boxes)
	require.Equal(t, float64(120), result.Width)
	require.Equal(t, float64(65), result.Height)
}

func TestLayoutSingleRow(t *testing.T) {
	result := computeLayout(t, LayoutInput{
		MaxWidth: 1000,
		Spacing:  5,
		Items: []Box{
			{Width: 10, Height: 8},
			{Width: 20, Height: 4},
		},
	})

	require.Equal(t, []PlacedBox{
		{Box: Box{Width: 10, Height: 8}, X: 0, Y: 0},
		{Box: Box{Width: 20, Height: 4}, X: 15, Y: 0},
	}, result.Boxes)
	require.Equal(t, float64(35), result.Width)
	require.Equal(t, float64(8), result.Height)
}

func TestLayoutNoItems(t *testing.T) {
	result := computeLayout(t, LayoutInput{MaxWidth: 100})
	require.Empty(t, result.Boxes)
	require.Zero(t, result.Width)
	require.Zero(t, result.Height)
}

func TestLayoutJSONPayload(t *testing.T) {
	result := computeLayout(t, []byte(`{"max_width":50,"spacing":0,"items":[{"width":30,"height":10},{"width":30,"height":10}]}`))
	require.Equal(t, []PlacedBox{
		{Box: Box{Width: 30, Height: 10}, X: 0, Y: 0},
		{Box: Box{Width: 30, Height: 10}, X: 0, Y: 10},
	}, result.Boxes)
}

func TestLayoutInvalidInput(t *testing.T) {
	for _, tc := range []struct {
		name    string
		payload any
		errMsg  string
	}{
		{"zero max width", LayoutInput{}, "max width must be positive"},
		{"negative spacing", LayoutInput{MaxWidth: 10, Spacing: -1}, "spacing must not be negative"},
		{"negative box", LayoutInput{MaxWidth: 10, Items: []Box{{Width: -1}}}, "box 0 has negative dimensions"},
		{"bad json", []byte(`{`), "decoding layout input"},
		{"bad type", 42, "payload must be a LayoutInput"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Layout{}.Run(context.Background(), dispatch.Envelope{
				Kind:    dispatch.KindComputeLayout,
				Payload: tc.payload,
			}, discardProgress)
			require.ErrorContains(t, err, tc.errMsg)
		})
	}
}
