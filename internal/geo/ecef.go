// Package geo converts Earth-Centered-Earth-Fixed GPS state vectors to
// geodetic position and local ground speed, heading and climb rate (WGS84).
package geo

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	wgs84A   = 6378137.0
	wgs84F   = 1 / 298.257223563
	wgs84B   = wgs84A * (1 - wgs84F)
	wgs84E2  = wgs84F * (2 - wgs84F)
	wgs84EP2 = (wgs84A*wgs84A - wgs84B*wgs84B) / (wgs84B * wgs84B)
)

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

// ECEFToLLA converts an ECEF position in meters to latitude and longitude in
// degrees and altitude above the ellipsoid in meters (Bowring's method).
func ECEFToLLA(p r3.Vec) (lat, lon, alt float64) {
	rho := math.Hypot(p.X, p.Y)
	theta := math.Atan2(p.Z*wgs84A, rho*wgs84B)
	st, ct := math.Sincos(theta)

	phi := math.Atan2(p.Z+wgs84EP2*wgs84B*st*st*st, rho-wgs84E2*wgs84A*ct*ct*ct)
	lambda := math.Atan2(p.Y, p.X)

	sphi, cphi := math.Sincos(phi)
	n := wgs84A / math.Sqrt(1-wgs84E2*sphi*sphi)
	if math.Abs(cphi) > 1e-9 {
		alt = rho/cphi - n
	} else {
		alt = math.Abs(p.Z) - wgs84B
	}
	return rad2deg(phi), rad2deg(lambda), alt
}

// LLAToECEF is the inverse of ECEFToLLA.
func LLAToECEF(lat, lon, alt float64) r3.Vec {
	sphi, cphi := math.Sincos(deg2rad(lat))
	slam, clam := math.Sincos(deg2rad(lon))
	n := wgs84A / math.Sqrt(1-wgs84E2*sphi*sphi)
	return r3.Vec{
		X: (n + alt) * cphi * clam,
		Y: (n + alt) * cphi * slam,
		Z: (n*(1-wgs84E2) + alt) * sphi,
	}
}

// enuBasis returns the local east, north and up unit vectors at lat/lon
// (degrees) expressed in ECEF.
func enuBasis(lat, lon float64) (east, north, up r3.Vec) {
	sphi, cphi := math.Sincos(deg2rad(lat))
	slam, clam := math.Sincos(deg2rad(lon))
	east = r3.Vec{X: -slam, Y: clam}
	north = r3.Vec{X: -sphi * clam, Y: -sphi * slam, Z: cphi}
	up = r3.Vec{X: cphi * clam, Y: cphi * slam, Z: sphi}
	return east, north, up
}

// ECEFToSpeedHeading projects an ECEF velocity (m/s) onto the local horizon
// at lat/lon (degrees). speed is horizontal ground speed in m/s, heading is
// degrees clockwise from true north in [0, 360), climb is vertical speed in
// m/s (positive up).
func ECEFToSpeedHeading(lat, lon float64, v r3.Vec) (speed, heading, climb float64) {
	east, north, up := enuBasis(lat, lon)
	ve := r3.Dot(v, east)
	vn := r3.Dot(v, north)
	climb = r3.Dot(v, up)

	speed = math.Hypot(ve, vn)
	heading = rad2deg(math.Atan2(ve, vn))
	if heading < 0 {
		heading += 360
	}
	return speed, heading, climb
}

// ENUToECEF converts a local east/north/up velocity at lat/lon to ECEF.
func ENUToECEF(lat, lon, ve, vn, vu float64) r3.Vec {
	east, north, up := enuBasis(lat, lon)
	return r3.Add(r3.Add(r3.Scale(ve, east), r3.Scale(vn, north)), r3.Scale(vu, up))
}

// LookAngles returns the azimuth (degrees clockwise from true north), the
// elevation above the local horizon (degrees) and the slant range (meters)
// from an observer to a target, both given as lat/lon (degrees) and
// ellipsoid altitude (meters).
func LookAngles(obsLat, obsLon, obsAlt, lat, lon, alt float64) (azimuth, elevation, rangeM float64) {
	d := r3.Sub(LLAToECEF(lat, lon, alt), LLAToECEF(obsLat, obsLon, obsAlt))
	east, north, up := enuBasis(obsLat, obsLon)
	e, n, u := r3.Dot(d, east), r3.Dot(d, north), r3.Dot(d, up)

	rangeM = r3.Norm(d)
	if rangeM == 0 {
		return 0, 90, 0
	}
	azimuth = rad2deg(math.Atan2(e, n))
	if azimuth < 0 {
		azimuth += 360
	}
	elevation = rad2deg(math.Atan2(u, math.Hypot(e, n)))
	return azimuth, elevation, rangeM
}
