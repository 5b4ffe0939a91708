// Package geo models a Neighborhood node's location: a WGS84 lat/long
// fix, convertible to UTM, with a staleness check for GPS-beacon-driven
// updates. It has no bearing on the ARQ/TDMA core; it exists so
// Node.Loc (spec.md §3) is a concrete, useful type rather than an
// opaque placeholder.
package geo

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"
)

// Point is a WGS84 geodetic fix with the time it was taken.
type Point struct {
	LatDeg    float64
	LonDeg    float64
	AltMeters float64
	Timestamp time.Time
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// latLng converts p to the golang/geo s2.LatLng representation used by
// coordconv and for great-circle distance.
func (p Point) latLng() s2.LatLng {
	return s2.LatLng{Lat: s1.Angle(toRad(p.LatDeg)), Lng: s1.Angle(toRad(p.LonDeg))}
}

// UTM is a Universal Transverse Mercator coordinate.
type UTM struct {
	Zone       int
	Hemisphere byte // 'N' or 'S'
	Easting    float64
	Northing   float64
}

// ToUTM converts p to UTM via coordconv's default converter.
func (p Point) ToUTM() (UTM, error) {
	coord, err := coordconv.DefaultUTMConverter.ConvertFromGeodetic(p.latLng(), 0)
	if err != nil {
		return UTM{}, fmt.Errorf("convert to UTM: %w", err)
	}
	hemi := byte('N')
	if coord.Hemisphere != 0 {
		hemi = 'S'
	}
	return UTM{
		Zone:       coord.Zone,
		Hemisphere: hemi,
		Easting:    coord.Easting,
		Northing:   coord.Northing,
	}, nil
}

// earthRadiusMeters is the mean Earth radius used for great-circle
// distance, matching s2's spherical model.
const earthRadiusMeters = 6371008.8

// DistanceMeters returns the great-circle distance between p and q.
func (p Point) DistanceMeters(q Point) float64 {
	angle := p.latLng().Distance(q.latLng())
	return float64(angle) * earthRadiusMeters
}

// Stale reports whether p's fix is older than maxAge as of now.
func (p Point) Stale(now time.Time, maxAge time.Duration) bool {
	if p.Timestamp.IsZero() {
		return true
	}
	return now.Sub(p.Timestamp) > maxAge
}
