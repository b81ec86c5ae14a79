package services

import (
	"math"
	"strings"

	"github.com/wfunc/geoguess/models"
)

const (
	MaxScore        = 5000
	scoreDecayKm    = 2000.0
	earthRadiusKm   = 6371.0
	unknownDistance = -1
)

// Scorer turns a guess into points for the wallpaper it targets. It also
// reports the distance in km, or -1 when it cannot be measured.
type Scorer interface {
	Score(g *models.Guess, w *models.Wallpaper) (score int, distanceKm float64)
}

// DistanceScorer decays exponentially with great-circle distance when both
// the guess and the wallpaper carry coordinates, and falls back to an exact
// country match otherwise.
type DistanceScorer struct{}

func (DistanceScorer) Score(g *models.Guess, w *models.Wallpaper) (int, float64) {
	if g.Lat != nil && g.Lng != nil && w.Lat != nil && w.Lng != nil {
		d := Haversine(*g.Lat, *g.Lng, *w.Lat, *w.Lng)
		return int(math.Round(MaxScore * math.Exp(-d/scoreDecayKm))), d
	}
	if g.CountryCode != "" && strings.EqualFold(g.CountryCode, w.Country.Code) {
		return MaxScore, unknownDistance
	}
	return 0, unknownDistance
}

// Haversine returns the great-circle distance in km between two points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
