package runner

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/godispatch/offload/pkg/dispatch"
)

// LayoutInput describes a flow layout: boxes are placed left to right and
// wrap into a new row when the next box would overflow MaxWidth. A box wider
// than MaxWidth gets a row of its own.
type LayoutInput struct {
	MaxWidth float64 `json:"max_width"`
	Spacing  float64 `json:"spacing"`
	Items    []Box   `json:"items"`
}

// Box is one item to lay out.
type Box struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PlacedBox is a box with its computed top-left position.
type PlacedBox struct {
	Box
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LayoutResult is the computed layout and its bounding extent.
type LayoutResult struct {
	Boxes  []PlacedBox `json:"boxes"`
	Width  float64     `json:"width"`
	Height float64     `json:"height"`
}

// Layout computes a flow layout for sized boxes. The payload is either a
// LayoutInput or its JSON encoding.
type Layout struct{}

func (Layout) Run(_ context.Context, env dispatch.Envelope, _ func(any)) (any, error) {
	in, err := layoutInput(env.Payload)
	if err != nil {
		return nil, err
	}
	if in.MaxWidth <= 0 {
		return nil, errors.New("layout max width must be positive")
	}
	if in.Spacing < 0 {
		return nil, errors.New("layout spacing must not be negative")
	}

	var (
		x, y, rowHeight float64
		result          = LayoutResult{Boxes: make([]PlacedBox, 0, len(in.Items))}
	)
	for i, box := range in.Items {
		if box.Width < 0 || box.Height < 0 {
			return nil, errors.Errorf("box %d has negative dimensions", i)
		}
		if x > 0 && x+box.Width > in.MaxWidth {
			x = 0
			y += rowHeight + in.Spacing
			rowHeight = 0
		}
		result.Boxes = append(result.Boxes, PlacedBox{Box: box, X: x, Y: y})
		if right := x + box.Width; right > result.Width {
			result.Width = right
		}
		if box.Height > rowHeight {
			rowHeight = box.Height
		}
		x += box.Width + in.Spacing
	}
	result.Height = y + rowHeight
	return result, nil
}

func layoutInput(payload any) (LayoutInput, error) {
	switch v := payload.(type) {
	case LayoutInput:
		return v, nil
	case *LayoutInput:
		return *v, nil
	case []byte:
		var in LayoutInput
		if err := jsoniter.ConfigFastest.Unmarshal(v, &in); err != nil {
			return LayoutInput{}, errors.Wrap(err, "decoding layout input")
		}
		return in, nil
	default:
		return LayoutInput{}, errors.Errorf("layout payload must be a LayoutInput or JSON bytes, got %T", payload)
	}
}
