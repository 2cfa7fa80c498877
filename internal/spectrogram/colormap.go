package spectrogram

import (
	"image/color"
	"math"
)

// stops run from the noise floor to the strongest bin.
var stops = []color.RGBA{
	{0x00, 0x00, 0x00, 0xff},
	{0x1b, 0x0c, 0x7a, 0xff},
	{0x00, 0xa6, 0xd6, 0xff},
	{0xf5, 0xe6, 0x1a, 0xff},
	{0xff, 0xff, 0xff, 0xff},
}

const colorMapSize = 256

type colorMap struct {
	lut      [colorMapSize]color.RGBA
	min, max float64
}

func newColorMap(minDB, maxDB float64) *colorMap {
	if maxDB <= minDB {
		maxDB = minDB + 1
	}
	cm := &colorMap{min: minDB, max: maxDB}
	for i := range cm.lut {
		cm.lut[i] = gradient(float64(i) / (colorMapSize - 1))
	}
	return cm
}

func (cm *colorMap) at(db float64) color.RGBA {
	if math.IsNaN(db) {
		db = cm.min
	}
	n := (db - cm.min) / (cm.max - cm.min)
	idx := int(math.Round(math.Max(0, math.Min(1, n)) * (colorMapSize - 1)))
	return cm.lut[idx]
}

// gradient interpolates linearly between neighbouring stops; v is in [0,1].
func gradient(v float64) color.RGBA {
	pos := v * float64(len(stops)-1)
	i := int(pos)
	if i >= len(stops)-1 {
		return stops[len(stops)-1]
	}
	f := pos - float64(i)
	a, b := stops[i], stops[i+1]
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + f*(float64(y)-float64(x))))
	}
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 0xff}
}
