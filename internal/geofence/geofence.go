// Package geofence decides whether a reported position is close enough to a
// checkpoint for a patrol report to be accepted.
package geofence

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// DefaultBaseRadius is the allowed radius when GPS accuracy is perfect or unknown.
const DefaultBaseRadius = 15.0

// Policy widens a base radius by the reported GPS accuracy.
type Policy struct {
	// BaseRadius is the minimum allowed radius in meters.
	BaseRadius float64
	// AccuracyFactor scales the reported accuracy before it is added to BaseRadius.
	AccuracyFactor float64
	// MaxRadius caps the allowed radius; zero disables the cap.
	MaxRadius float64
}

// DefaultPolicy returns the 15m base radius widened one-for-one by accuracy, capped at 100m.
func DefaultPolicy() Policy {
	return Policy{BaseRadius: DefaultBaseRadius, AccuracyFactor: 1, MaxRadius: 100}
}

// Result is the outcome of a geofence check.
type Result struct {
	DistanceMeters float64
	AccuracyMeters float64
	AllowedRadius  float64
	Pass           bool
}

// Distance returns the great-circle distance in meters between two points given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a just outside [0,1] for antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// AllowedRadius returns the accepted radius for the given accuracy. It never
// decreases as accuracy grows.
func (p Policy) AllowedRadius(accuracy float64) float64 {
	base := p.BaseRadius
	if base <= 0 {
		base = DefaultBaseRadius
	}
	acc := sanitizeAccuracy(accuracy)
	radius := base
	if p.AccuracyFactor > 0 && acc > 0 {
		radius += p.AccuracyFactor * acc
	}
	if p.MaxRadius > 0 && radius > p.MaxRadius {
		radius = math.Max(p.MaxRadius, base)
	}
	return radius
}

// Check measures the distance from the user to the checkpoint and compares it to
// the accuracy-adjusted radius.
func (p Policy) Check(userLat, userLon, pointLat, pointLon, accuracy float64) Result {
	distance := Distance(userLat, userLon, pointLat, pointLon)
	allowed := p.AllowedRadius(accuracy)
	return Result{
		DistanceMeters: distance,
		AccuracyMeters: sanitizeAccuracy(accuracy),
		AllowedRadius:  allowed,
		Pass:           distance <= allowed,
	}
}

func sanitizeAccuracy(accuracy float64) float64 {
	if math.IsNaN(accuracy) || accuracy < 0 {
		return 0
	}
	return accuracy
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
