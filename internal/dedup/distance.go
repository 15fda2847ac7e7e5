package dedup

import (
	"github.com/golang/geo/s2"

	"networksurvey/uploader/internal/model"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// HaversineDistance returns the great-circle distance between two fixes in meters.
func HaversineDistance(a, b model.Location) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}
