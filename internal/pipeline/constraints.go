package pipeline

import (
	"errors"
	"math"

	"github.com/MeKo-Tech/aeromosaic/internal/geo"
)

// constraints is the resolved resolution contract for one run: the
// effective meters-per-pixel bound fed into zoom selection, and the output
// pixel dimensions (zero when no scaling was requested).
type constraints struct {
	maxMetersPerPixel float64
	imageWidth        float64
	imageHeight       float64
}

// resolveConstraints combines a meters-per-pixel constraint with optional
// explicit output dimensions. When only one output dimension is given, the
// constraint is tightened so that dimension is met and the other is derived
// from the area's aspect ratio. When both are given, whichever imposes the
// tighter constraint wins. For oblique views the vertical axis is
// compressed by 1/√2, so height-derived constraints are relaxed by that
// factor and the derived dimensions compensate for it.
func resolveConstraints(widthM, heightM, maxMetersPerPixel, imageWidth, imageHeight float64, direction geo.ViewDirection) (constraints, error) {
	foreshortening := 1.0
	if direction.IsOblique() {
		foreshortening = math.Sqrt2
	}

	// a bare output-dimension request acts like a 1 m/px baseline that the
	// dimension then tightens
	base := maxMetersPerPixel
	if base == 0 {
		base = 1
	}

	c := constraints{maxMetersPerPixel: maxMetersPerPixel}

	switch {
	case imageWidth == 0 && imageHeight == 0:
		if maxMetersPerPixel <= 0 {
			return constraints{}, errors.New("either a meters-per-pixel constraint or output dimensions are required")
		}
		return c, nil
	case imageHeight == 0:
		c.maxMetersPerPixel = base * (widthM / imageWidth)
	case imageWidth == 0:
		c.maxMetersPerPixel = base * (heightM / imageHeight) / foreshortening
	default:
		// both set: use whichever imposes the tighter constraint
		if widthM/imageWidth <= (heightM/imageHeight)/foreshortening {
			c.maxMetersPerPixel = base * (widthM / imageWidth)
		} else {
			c.maxMetersPerPixel = base * (heightM / imageHeight) / foreshortening
		}
	}

	// derive the missing output dimension from the area's aspect ratio
	c.imageWidth = imageWidth
	c.imageHeight = imageHeight
	if c.imageHeight == 0 {
		c.imageHeight = heightM * (imageWidth / widthM) / foreshortening
	} else if c.imageWidth == 0 {
		c.imageWidth = widthM * (imageHeight / heightM) * foreshortening
	}

	return c, nil
}
