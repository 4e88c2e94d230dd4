package shape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescriptorKeyedOnColor(t *testing.T) {
	td := Descriptor()
	assert.Equal(t, TypeName, td.Name)
	var keys []string
	for _, f := range td.Fields {
		if f.Key {
			keys = append(keys, f.Name)
		}
	}
	assert.Equal(t, []string{"color"}, keys)
	assert.Equal(t, td.Signature(), Descriptor().Signature())
}

func TestStrings(t *testing.T) {
	s := Sample{Color: "ORANGE", X: 1, Y: 2, Size: 30, Fill: SolidFill}
	assert.Equal(t, "ORANGE (1,2) size=30 SOLID_FILL", s.String())
	assert.Equal(t, "FillKind(9)", FillKind(9).String())
	assert.Equal(t, "VERTICAL_HATCH_FILL", VerticalHatchFill.String())
}
