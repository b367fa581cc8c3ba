// Package color assigns stable display colors to labels discovered at run
// time (category keys, series keys). Colors depend only on the label and the
// display mode passed in; there is no package state.
package color

import (
	"fmt"
	"math"

	"finstats/internal/core"
)

const saturation = 70

// lightness is the per-mode lightness table. Light backgrounds get darker
// strokes, dark backgrounds get lighter ones.
var lightness = map[core.Mode]int{
	core.Light: 40,
	core.Dark:  65,
}

// Hue returns the hue in [0, 360) for label. The hash is the classic
// 31-multiplier rolling hash over UTF-16 code units with 32-bit wraparound.
func Hue(label string) int {
	var h int32
	for _, u := range utf16Units(label) {
		h = int32(u) + (h << 5) - h
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % 360)
}

// Lightness returns the lightness percentage used for mode. Unknown modes
// fall back to the light table entry.
func Lightness(mode core.Mode) int {
	if l, ok := lightness[mode]; ok {
		return l
	}
	return lightness[core.Light]
}

// For returns a CSS hsl() color for label in the given mode.
func For(label string, mode core.Mode) string {
	return fmt.Sprintf("hsl(%d,%d%%,%d%%)", Hue(label), saturation, Lightness(mode))
}

// Hex returns the same color as For in #rrggbb form, for renderers that do
// not understand hsl().
func Hex(label string, mode core.Mode) string {
	r, g, b := hslToRGB(float64(Hue(label)), saturation/100.0, float64(Lightness(mode))/100.0)
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// Action returns the color used for an audit action's amount and icon.
func Action(a core.Action) string {
	switch a {
	case core.ActionCreated:
		return "#008000"
	case core.ActionAmountUpdated:
		return "#daa520"
	case core.ActionAmountAdded:
		return "#1976d2"
	case core.ActionDeleted:
		return "#ff0000"
	}
	return "#6b7280"
}

func utf16Units(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 0x10000 && r <= 0x10FFFF:
			r -= 0x10000
			units = append(units, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
		default:
			// invalid UTF-8 decodes to U+FFFD, which fits in one unit
			units = append(units, uint16(r))
		}
	}
	return units
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	c := (1 - math.Abs(2*l-1)) * s
	hp := h / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	m := l - c/2
	return to8(r + m), to8(g + m), to8(b + m)
}

func to8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
