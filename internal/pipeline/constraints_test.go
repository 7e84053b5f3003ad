package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/aeromosaic/internal/geo"
)

func TestResolveConstraints(t *testing.T) {
	tests := []struct {
		name        string
		widthM      float64
		heightM     float64
		mpp         float64
		imageWidth  float64
		imageHeight float64
		direction   geo.ViewDirection

		wantMPP    float64
		wantWidth  float64
		wantHeight float64
		wantErr    bool
	}{
		{
			name:   "meters per pixel only",
			widthM: 2000, heightM: 1000, mpp: 20,
			direction: geo.Downward,
			wantMPP:   20, wantWidth: 0, wantHeight: 0,
		},
		{
			name:   "nothing constrains",
			widthM: 2000, heightM: 1000,
			direction: geo.Downward,
			wantErr:   true,
		},
		{
			name:   "image width only",
			widthM: 2000, heightM: 1000, imageWidth: 1000,
			direction: geo.Downward,
			wantMPP:   2, wantWidth: 1000, wantHeight: 500,
		},
		{
			name:   "image height only",
			widthM: 2000, heightM: 1000, imageHeight: 500,
			direction: geo.Downward,
			wantMPP:   2, wantWidth: 1000, wantHeight: 500,
		},
		{
			name:   "both dimensions, width tighter",
			widthM: 2000, heightM: 1000, imageWidth: 1000, imageHeight: 200,
			direction: geo.Downward,
			wantMPP:   2, wantWidth: 1000, wantHeight: 200,
		},
		{
			name:   "both dimensions, height tighter",
			widthM: 2000, heightM: 1000, imageWidth: 100, imageHeight: 500,
			direction: geo.Downward,
			wantMPP:   2, wantWidth: 100, wantHeight: 500,
		},
		{
			name:   "meters per pixel scales a width request",
			widthM: 2000, heightM: 1000, mpp: 20, imageWidth: 500,
			direction: geo.Downward,
			wantMPP:   80, wantWidth: 500, wantHeight: 250,
		},
		{
			name:   "oblique height request relaxed by foreshortening",
			widthM: 2000, heightM: 1000, imageHeight: 500,
			direction: geo.Northward,
			wantMPP:   2 / math.Sqrt2, wantWidth: 1000 * math.Sqrt2, wantHeight: 500,
		},
		{
			name:   "oblique width request derives compressed height",
			widthM: 2000, heightM: 1000, imageWidth: 1000,
			direction: geo.Eastward,
			wantMPP:   2, wantWidth: 1000, wantHeight: 500 / math.Sqrt2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := resolveConstraints(tt.widthM, tt.heightM, tt.mpp, tt.imageWidth, tt.imageHeight, tt.direction)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.InDelta(t, tt.wantMPP, c.maxMetersPerPixel, 1e-9, "meters per pixel")
			assert.InDelta(t, tt.wantWidth, c.imageWidth, 1e-9, "image width")
			assert.InDelta(t, tt.wantHeight, c.imageHeight, 1e-9, "image height")
		})
	}
}

func TestResolveConstraintsObliqueTieBreak(t *testing.T) {
	// with a square area and square output, foreshortening makes the
	// height the tighter constraint for oblique views
	c, err := resolveConstraints(1000, 1000, 0, 500, 500, geo.Southward)
	require.NoError(t, err)
	assert.InDelta(t, 2/math.Sqrt2, c.maxMetersPerPixel, 1e-9)
}
