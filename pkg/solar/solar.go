// Package solar computes sun position and clear-sky irradiance for the
// illumination inputs of the radiation forcing fields.
package solar

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

const (
	solarConstant = 1367.0
	auToKm        = 149597870.7
)

// Position is the sun's location relative to a site at one instant.
type Position struct {
	CosZenith      float64
	AzimuthDeg     float64 // clockwise from north
	ElevationDeg   float64 // refraction corrected
	DeclinationDeg float64
	EqOfTimeMin    float64
	RadiusVector   float64 // sun-earth distance in AU
}

// Up reports whether the sun is above the horizon.
func (p Position) Up() bool {
	return p.ElevationDeg > 0
}

// SunEarthDistKm returns the sun-earth distance in kilometres.
func (p Position) SunEarthDistKm() float64 {
	return p.RadiusVector * auToKm
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180.0 }
func radToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }
func fixAngle(a float64) float64   { return a - 360.0*math.Floor(a/360.0) }

// SunPosition returns the sun position at t for a site at lat/lon degrees
// (east positive).
func SunPosition(t time.Time, lat, lon float64) Position {
	t = t.UTC()
	jd := julian.TimeToJD(t)
	T := (jd - 2451545.0) / 36525.0

	L0 := fixAngle(280.46646 + T*(36000.76983+T*0.0003032))
	M := fixAngle(357.52911 + T*(35999.05029-T*0.0001537))
	e := 0.016708634 - T*(0.000042037+T*0.0000001267)
	C := math.Sin(degToRad(M))*(1.914602-T*(0.004817+T*0.000014)) +
		math.Sin(degToRad(2*M))*(0.019993-T*0.000101) +
		math.Sin(degToRad(3*M))*0.000289
	omega := 125.04 - 1934.136*T
	lambda := L0 + C - 0.00569 - 0.00478*math.Sin(degToRad(omega))
	eps0 := 23 + (26+(21.448-T*(46.815+T*(0.00059-T*0.001813)))/60)/60
	decl := math.Asin(math.Sin(degToRad(eps0)) * math.Sin(degToRad(lambda)))

	y := math.Tan(degToRad(eps0)/2) * math.Tan(degToRad(eps0)/2)
	eqTime := radToDeg(y*math.Sin(degToRad(2*L0))-
		2*e*math.Sin(degToRad(M))+
		4*e*y*math.Sin(degToRad(M))*math.Cos(degToRad(2*L0))-
		0.5*y*y*math.Sin(degToRad(4*L0))-
		1.25*e*e*math.Sin(degToRad(2*M))) * 4

	utcMin := float64(t.Hour()*60+t.Minute()) + float64(t.Second())/60.0
	ha := (utcMin+4*lon+eqTime)/4 - 180
	latRad := degToRad(lat)
	cosZen := math.Sin(latRad)*math.Sin(decl) + math.Cos(latRad)*math.Cos(decl)*math.Cos(degToRad(ha))
	cosZen = math.Max(-1, math.Min(1, cosZen))
	zen := math.Acos(cosZen)

	p := Position{
		CosZenith:      cosZen,
		ElevationDeg:   90 - radToDeg(zen) + 0.5667,
		DeclinationDeg: radToDeg(decl),
		EqOfTimeMin:    eqTime,
	}

	if s := math.Sin(zen); s > 0 {
		az := math.Acos(math.Max(-1, math.Min(1, (math.Sin(decl)-math.Sin(latRad)*cosZen)/(math.Cos(latRad)*s))))
		p.AzimuthDeg = radToDeg(az)
		if ha > 0 {
			p.AzimuthDeg = 360 - p.AzimuthDeg
		}
	}

	// Sun-earth distance from the eccentric anomaly.
	Mr := degToRad(M)
	e = 0.016708617 - T*(0.000042037+T*0.0000001236)
	E := Mr + e*math.Sin(Mr)*(1+e*math.Cos(Mr))
	v := 2 * math.Atan(math.Sqrt((1+e)/(1-e))*math.Tan(E/2))
	p.RadiusVector = (1 - e*e) / (1 + e*math.Cos(v))

	return p
}

// ClearSky returns the Bras clear-sky global irradiance (W/m²) for a sun
// position and a Linke-style turbidity factor nfac (2 clear, 5 hazy).
func ClearSky(p Position, nfac float64) float64 {
	if !p.Up() || p.CosZenith <= 0 {
		return 0
	}
	r := p.RadiusVector
	io := p.CosZenith * solarConstant / (r * r)
	m := 1.0 / (p.CosZenith + 0.15*math.Pow(p.ElevationDeg+3.885, -1.253))
	a1 := 0.128 - 0.054*math.Log10(m)
	sr := io * math.Exp(-nfac*a1*m)
	if sr < 0 {
		return 0
	}
	return sr
}

// Illumination returns the cosine of the angle between the sun and a
// surface with the given slope and aspect (degrees, aspect clockwise from
// north). Values are clamped to zero for self-shaded surfaces.
func Illumination(p Position, slopeDeg, aspectDeg float64) float64 {
	if !p.Up() {
		return 0
	}
	zen := math.Acos(p.CosZenith)
	s := degToRad(slopeDeg)
	mu := math.Cos(s)*p.CosZenith + math.Sin(s)*math.Sin(zen)*math.Cos(degToRad(p.AzimuthDeg-aspectDeg))
	if mu < 0 {
		return 0
	}
	return mu
}
