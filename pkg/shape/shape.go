package shape

import (
	"fmt"

	"redalf.de/shapes/pkg/bus"
)

// FillKind mirrors the shapes demo fill enum.
type FillKind int32

const (
	SolidFill FillKind = iota
	TransparentFill
	HorizontalHatchFill
	VerticalHatchFill
)

func (f FillKind) String() string {
	switch f {
	case SolidFill:
		return "SOLID_FILL"
	case TransparentFill:
		return "TRANSPARENT_FILL"
	case HorizontalHatchFill:
		return "HORIZONTAL_HATCH_FILL"
	case VerticalHatchFill:
		return "VERTICAL_HATCH_FILL"
	}
	return fmt.Sprintf("FillKind(%d)", int32(f))
}

// Sample is one shape instance. Color is the instance key.
type Sample struct {
	Color string
	X     int32
	Y     int32
	Size  int32
	Fill  FillKind
	Angle float32
}

func (s Sample) String() string {
	return fmt.Sprintf("%s (%d,%d) size=%d %s", s.Color, s.X, s.Y, s.Size, s.Fill)
}

// TypeName is the registered type name of Sample.
const TypeName = "ShapeTypeExtended"

// Descriptor returns the bus type descriptor for Sample.
func Descriptor() bus.TypeDescriptor {
	return bus.TypeDescriptor{
		Name: TypeName,
		Fields: []bus.Field{
			{Name: "color", Kind: bus.KindString, Key: true},
			{Name: "x", Kind: bus.KindInt32},
			{Name: "y", Kind: bus.KindInt32},
			{Name: "shapesize", Kind: bus.KindInt32},
			{Name: "fillKind", Kind: bus.KindEnum},
			{Name: "angle", Kind: bus.KindFloat32},
		},
	}
}
