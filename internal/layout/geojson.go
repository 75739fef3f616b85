package layout

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// TileProperty is the feature property holding the tile id of a region.
const TileProperty = "tile"

var ErrEmptyBounds = errors.New("layout: geojson bounds are empty")

type region struct {
	id    int32
	geom  orb.Geometry
	bound orb.Bound
}

// FromGeoJSON rasterizes the polygons of a FeatureCollection into a w x h
// map. A cell takes the tile id of the last polygon containing its center;
// cells outside every polygon get fallback. bounds maps the grid onto the
// plane; when nil the union of all polygon bounds is used. Row 0 is the
// northern edge.
func FromGeoJSON(data []byte, w, h int, bounds *orb.Bound, fallback int32) ([]int32, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("layout: invalid grid size %dx%d", w, h)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}

	regions := make([]region, 0, len(fc.Features))
	var union orb.Bound
	for i, f := range fc.Features {
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			continue
		}
		v, ok := f.Properties[TileProperty].(float64)
		if !ok {
			return nil, fmt.Errorf("layout: feature %d has no numeric %q property", i, TileProperty)
		}
		if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("layout: feature %d has %q %v, want an int32", i, TileProperty, v)
		}
		b := f.Geometry.Bound()
		if len(regions) == 0 {
			union = b
		} else {
			union = union.Union(b)
		}
		regions = append(regions, region{id: int32(v), geom: f.Geometry, bound: b})
	}

	if bounds != nil {
		union = *bounds
	}
	if union.Max.X() <= union.Min.X() || union.Max.Y() <= union.Min.Y() {
		if len(regions) == 0 && bounds == nil {
			return Fill(w, h, fallback), nil
		}
		return nil, ErrEmptyBounds
	}

	cells := make([]int32, w*h)
	dx := (union.Max.X() - union.Min.X()) / float64(w)
	dy := (union.Max.Y() - union.Min.Y()) / float64(h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pt := orb.Point{union.Min.X() + (float64(x)+0.5)*dx, union.Max.Y() - (float64(y)+0.5)*dy}
			cells[y*w+x] = lookup(regions, pt, fallback)
		}
	}
	return cells, nil
}

func lookup(regions []region, pt orb.Point, fallback int32) int32 {
	for i := len(regions) - 1; i >= 0; i-- {
		r := regions[i]
		if !r.bound.Contains(pt) {
			continue
		}
		switch g := r.geom.(type) {
		case orb.Polygon:
			if planar.PolygonContains(g, pt) {
				return r.id
			}
		case orb.MultiPolygon:
			if planar.MultiPolygonContains(g, pt) {
				return r.id
			}
		}
	}
	return fallback
}
