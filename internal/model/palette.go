package model

import (
	"github.com/lucasb-eyer/go-colorful"
)

// spectral is the ColorBrewer "Spectral" diverging scheme, 11 classes.
var spectral = []string{
	"#9e0142", "#d53e4f", "#f46d43", "#fdae61", "#fee08b", "#ffffbf",
	"#e6f598", "#abdda4", "#66c2a5", "#3288bd", "#5e4fa2",
}

// darkenL is how far a group color is pulled down in Lab lightness (L in 0..1).
const darkenL = 0.18

// Palette maps group ordinals to colors by sampling a continuous scale.
type Palette struct {
	stops []colorful.Color
}

// Spectral returns the palette used for group colors.
func Spectral() Palette {
	stops := make([]colorful.Color, len(spectral))
	for i, hex := range spectral {
		c, err := colorful.Hex(hex)
		if err != nil {
			panic("model: bad palette color " + hex)
		}
		stops[i] = c
	}
	return Palette{stops: stops}
}

// At samples the scale at t in [0, 1] with linear RGB interpolation between
// neighbouring stops.
func (p Palette) At(t float64) colorful.Color {
	switch {
	case t <= 0:
		return p.stops[0]
	case t >= 1:
		return p.stops[len(p.stops)-1]
	}

	pos := t * float64(len(p.stops)-1)
	i := int(pos)
	return p.stops[i].BlendRgb(p.stops[i+1], pos-float64(i))
}

// Color returns the color of group ordinal out of count groups as #rrggbb.
// It is a pure function of its arguments.
func (p Palette) Color(ordinal, count int) string {
	t := 0.5
	if count > 1 {
		t = float64(ordinal) / float64(count-1)
	}

	// Quantize to 8 bits before darkening, as a hex round trip would.
	sample, _ := colorful.Hex(p.At(t).Hex())

	l, a, b := sample.Lab()
	return colorful.Lab(l-darkenL, a, b).Clamped().Hex()
}

// withAlpha appends an alpha channel to a #rrggbb color.
func withAlpha(hex string, alpha uint8) string {
	const digits = "0123456789abcdef"
	return hex + string([]byte{digits[alpha>>4], digits[alpha&0x0f]})
}
