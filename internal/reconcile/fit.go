package reconcile

import (
	"math"

	"github.com/dyluth/geowatch/pkg/tracking"
)

// tileSize is the web-mercator world width in pixels at zoom 0.
const tileSize = 256.0

// maxMercatorLat is the latitude where web-mercator is clipped.
const maxMercatorLat = 85.0511287798

// Bounds is a lat/lng bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// FitOptions describes the canvas a fit is computed for.
type FitOptions struct {
	PaddingPx int
	MaxZoom   int
	Width     int
	Height    int
}

// Fit is an auto-fit request: the region to show and the viewport that shows it.
type Fit struct {
	Bounds   Bounds            `json:"bounds"`
	Viewport tracking.Viewport `json:"viewport"`
}

// ComputeBounds covers every checkpoint and location. ok is false when both
// inputs are empty.
func ComputeBounds(checkpoints []tracking.Checkpoint, locations []tracking.LocationSample) (Bounds, bool) {
	b := Bounds{MinLat: math.Inf(1), MinLng: math.Inf(1), MaxLat: math.Inf(-1), MaxLng: math.Inf(-1)}
	n := 0
	extend := func(lat, lng float64) {
		b.MinLat = math.Min(b.MinLat, lat)
		b.MaxLat = math.Max(b.MaxLat, lat)
		b.MinLng = math.Min(b.MinLng, lng)
		b.MaxLng = math.Max(b.MaxLng, lng)
		n++
	}
	for _, cp := range checkpoints {
		extend(cp.Lat, cp.Lon)
	}
	for _, l := range locations {
		extend(l.Lat, l.Lon)
	}
	if n == 0 {
		return Bounds{}, false
	}
	return b, true
}

// FitViewport returns the center and the largest zoom, capped at MaxZoom,
// at which b fits inside the canvas minus PaddingPx on every side.
func FitViewport(b Bounds, o FitOptions) tracking.Viewport {
	minY := mercatorY(b.MinLat)
	maxY := mercatorY(b.MaxLat)
	center := tracking.Viewport{
		Lat: inverseMercatorY((minY + maxY) / 2),
		Lng: (b.MinLng + b.MaxLng) / 2,
	}

	availW := math.Max(float64(o.Width-2*o.PaddingPx), 1)
	availH := math.Max(float64(o.Height-2*o.PaddingPx), 1)

	zoom := float64(o.MaxZoom)
	if span := (b.MaxLng - b.MinLng) / 360; span > 0 {
		zoom = math.Min(zoom, math.Log2(availW/tileSize/span))
	}
	if span := (maxY - minY) / (2 * math.Pi); span > 0 {
		zoom = math.Min(zoom, math.Log2(availH/tileSize/span))
	}
	center.Zoom = int(math.Max(math.Floor(zoom), 0))
	return center
}

func mercatorY(lat float64) float64 {
	lat = math.Max(math.Min(lat, maxMercatorLat), -maxMercatorLat)
	rad := lat * math.Pi / 180
	return math.Log(math.Tan(math.Pi/4 + rad/2))
}

func inverseMercatorY(y float64) float64 {
	return (2*math.Atan(math.Exp(y)) - math.Pi/2) * 180 / math.Pi
}
