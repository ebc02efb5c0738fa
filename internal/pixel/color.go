package pixel

// RGB is an 8-bit per channel colour.
type RGB struct {
	R, G, B uint8
}

// HSVToRGB converts hue in degrees and saturation/value in percent.
// Hue wraps modulo 360; saturation and value are clamped to 100.
func HSVToRGB(h, s, v uint16) RGB {
	h %= 360
	s = min(s, 100)
	v = min(v, 100)

	maxC := (uint32(v)*255 + 50) / 100
	minC := maxC * uint32(100-s) / 100
	adj := (maxC - minC) * uint32(h%60) / 60

	var r, g, b uint32
	switch h / 60 {
	case 0:
		r, g, b = maxC, minC+adj, minC
	case 1:
		r, g, b = maxC-adj, maxC, minC
	case 2:
		r, g, b = minC, maxC, minC+adj
	case 3:
		r, g, b = minC, maxC-adj, maxC
	case 4:
		r, g, b = minC+adj, minC, maxC
	default:
		r, g, b = maxC, minC, maxC-adj
	}
	return RGB{R: uint8(r), G: uint8(g), B: uint8(b)}
}

// Interpolate blends a towards b by t in [0,1], truncating each channel.
// The endpoints are returned exactly.
func Interpolate(a, b RGB, t float64) RGB {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t)
	}
	return RGB{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B)}
}

// Scale dims c to pct percent.
func (c RGB) Scale(pct uint16) RGB {
	pct = min(pct, 100)
	scale := func(x uint8) uint8 {
		return uint8(uint32(x) * uint32(pct) / 100)
	}
	return RGB{R: scale(c.R), G: scale(c.G), B: scale(c.B)}
}
