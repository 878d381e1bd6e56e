package geo

import "math"

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceKm returns the great-circle distance between two points using the
// haversine formula.
func DistanceKm(a, b Point) float64 {
	latA := radians(a.Lat)
	latB := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// SLA is a delivery estimate derived from shipping distance.
type SLA struct {
	Days  int    `json:"days"`
	Label string `json:"label"`
}

const unknownDistanceSLADays = 5

// InferSLA buckets a shipping distance into a delivery estimate. A negative
// distance means the distance is unknown (no ship-to point or no location
// geo) and yields a conservative default.
func InferSLA(distanceKm float64) SLA {
	switch {
	case distanceKm < 0:
		return SLA{Days: unknownDistanceSLADays, Label: "standard"}
	case distanceKm <= 50:
		return SLA{Days: 1, Label: "same/next day"}
	case distanceKm <= 250:
		return SLA{Days: 2, Label: "regional"}
	case distanceKm <= 1000:
		return SLA{Days: 4, Label: "national"}
	default:
		return SLA{Days: 7, Label: "intl"}
	}
}
