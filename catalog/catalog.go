// Package catalog selects wallpapers for rounds.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/wfunc/geoguess/models"
)

const WorldMap = "World"

// Continents are the map names offered besides World.
var Continents = []string{"Europe", "Americas", "Asia", "Africa", "Oceania"}

var ErrNoWallpaper = errors.New("no wallpaper available")

type Catalog interface {
	// Select returns a random wallpaper on the map whose id is not in exclude.
	Select(ctx context.Context, mapName string, exclude []string) (*models.Wallpaper, error)
	// Count returns how many wallpapers the map covers.
	Count(ctx context.Context, mapName string) (int, error)
	Get(ctx context.Context, id string) (*models.Wallpaper, error)
	// Maps lists World first, then the continents by wallpaper count.
	Maps(ctx context.Context) ([]models.MapInfo, error)
}

// ParseMap splits a comma separated map filter into tags. An empty filter is World.
func ParseMap(mapName string) []string {
	var tags []string
	for _, part := range strings.Split(mapName, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tags = append(tags, part)
		}
	}
	if len(tags) == 0 {
		return []string{WorldMap}
	}
	return tags
}

// Matches reports whether w carries any of the filter tags, ignoring case.
func Matches(w *models.Wallpaper, filter []string) bool {
	for _, want := range filter {
		for _, tag := range w.Tags {
			if strings.EqualFold(tag, want) {
				return true
			}
		}
	}
	return false
}

// GenerateTags derives the map tags of a wallpaper: continent (World when the
// country is unknown), country name, state name, and World.
func GenerateTags(country models.Place, state *models.Place) []string {
	var tags []string
	if continent, ok := countryToContinent[strings.ToUpper(country.Code)]; ok {
		tags = append(tags, continent)
	} else {
		tags = append(tags, WorldMap)
	}
	if country.Text != "" {
		tags = append(tags, country.Text)
	}
	if state != nil && state.Text != "" {
		tags = append(tags, state.Text)
	}
	for _, t := range tags {
		if t == WorldMap {
			return tags
		}
	}
	return append(tags, WorldMap)
}

func ContinentOf(countryCode string) (string, bool) {
	c, ok := countryToContinent[strings.ToUpper(countryCode)]
	return c, ok
}

func sortMaps(counts map[string]int) []models.MapInfo {
	out := make([]models.MapInfo, 0, len(counts))
	for name, n := range counts {
		if n > 0 || name == WorldMap {
			out = append(out, models.MapInfo{Name: name, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == WorldMap {
			return true
		}
		if out[j].Name == WorldMap {
			return false
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func isMapName(tag string) bool {
	if tag == WorldMap {
		return true
	}
	for _, c := range Continents {
		if c == tag {
			return true
		}
	}
	return false
}

var countryToContinent = map[string]string{
	"FRA": "Europe", "DEU": "Europe", "ITA": "Europe", "ESP": "Europe", "GBR": "Europe",
	"PRT": "Europe", "NLD": "Europe", "BEL": "Europe", "CHE": "Europe", "AUT": "Europe",
	"GRC": "Europe", "POL": "Europe", "CZE": "Europe", "HUN": "Europe", "SVK": "Europe",
	"SVN": "Europe", "HRV": "Europe", "SRB": "Europe", "BGR": "Europe", "ROU": "Europe",
	"UKR": "Europe", "BLR": "Europe", "LTU": "Europe", "LVA": "Europe", "EST": "Europe",
	"RUS": "Europe", "NOR": "Europe", "SWE": "Europe", "FIN": "Europe", "DNK": "Europe",
	"ISL": "Europe", "IRL": "Europe", "MKD": "Europe", "ALB": "Europe", "MNE": "Europe",
	"BIH": "Europe", "LUX": "Europe", "MLT": "Europe", "CYP": "Europe", "AND": "Europe",
	"MCO": "Europe", "SMR": "Europe", "VAT": "Europe", "LIE": "Europe",

	"USA": "Americas", "CAN": "Americas", "MEX": "Americas", "BRA": "Americas", "ARG": "Americas",
	"CHL": "Americas", "COL": "Americas", "PER": "Americas", "VEN": "Americas", "ECU": "Americas",
	"BOL": "Americas", "PRY": "Americas", "URY": "Americas", "GUY": "Americas", "SUR": "Americas",
	"GUF": "Americas", "CRI": "Americas", "PAN": "Americas", "NIC": "Americas", "HND": "Americas",
	"GTM": "Americas", "BLZ": "Americas", "SLV": "Americas", "CUB": "Americas", "JAM": "Americas",
	"HTI": "Americas", "DOM": "Americas", "PRI": "Americas", "TTO": "Americas", "BRB": "Americas",

	"CHN": "Asia", "IND": "Asia", "JPN": "Asia", "KOR": "Asia", "PRK": "Asia", "THA": "Asia",
	"VNM": "Asia", "MYS": "Asia", "IDN": "Asia", "PHL": "Asia", "SGP": "Asia", "KHM": "Asia",
	"LAO": "Asia", "MMR": "Asia", "BGD": "Asia", "PAK": "Asia", "AFG": "Asia", "IRN": "Asia",
	"IRQ": "Asia", "SYR": "Asia", "TUR": "Asia", "ARM": "Asia", "AZE": "Asia", "GEO": "Asia",
	"KAZ": "Asia", "KGZ": "Asia", "TJK": "Asia", "TKM": "Asia", "UZB": "Asia", "MNG": "Asia",
	"NPL": "Asia", "BTN": "Asia", "LKA": "Asia", "MDV": "Asia", "BRN": "Asia", "TWN": "Asia",
	"HKG": "Asia", "MAC": "Asia", "ISR": "Asia", "PSE": "Asia", "JOR": "Asia", "LBN": "Asia",
	"SAU": "Asia", "ARE": "Asia", "QAT": "Asia", "BHR": "Asia", "KWT": "Asia", "OMN": "Asia",
	"YEM": "Asia",

	"EGY": "Africa", "LBY": "Africa", "TUN": "Africa", "DZA": "Africa", "MAR": "Africa",
	"SDN": "Africa", "SSD": "Africa", "ETH": "Africa", "ERI": "Africa", "DJI": "Africa",
	"SOM": "Africa", "KEN": "Africa", "UGA": "Africa", "TZA": "Africa", "RWA": "Africa",
	"BDI": "Africa", "COD": "Africa", "COG": "Africa", "CAF": "Africa", "TCD": "Africa",
	"CMR": "Africa", "NGA": "Africa", "NER": "Africa", "MLI": "Africa", "BFA": "Africa",
	"GHA": "Africa", "CIV": "Africa", "LBR": "Africa", "SLE": "Africa", "GIN": "Africa",
	"GNB": "Africa", "SEN": "Africa", "GMB": "Africa", "MRT": "Africa", "ZAF": "Africa",
	"ZWE": "Africa", "BWA": "Africa", "NAM": "Africa", "AGO": "Africa", "ZMB": "Africa",
	"MWI": "Africa", "MOZ": "Africa", "MDG": "Africa", "MUS": "Africa", "SYC": "Africa",
	"COM": "Africa", "CPV": "Africa", "STP": "Africa", "GNQ": "Africa", "GAB": "Africa",
	"LSO": "Africa", "SWZ": "Africa",

	"AUS": "Oceania", "NZL": "Oceania", "PNG": "Oceania", "FJI": "Oceania", "SLB": "Oceania",
	"VUT": "Oceania", "NCL": "Oceania", "PYF": "Oceania", "WSM": "Oceania", "TON": "Oceania",
	"KIR": "Oceania", "TUV": "Oceania", "NRU": "Oceania", "PLW": "Oceania", "FSM": "Oceania",
	"MHL": "Oceania", "GUM": "Oceania", "COK": "Oceania", "NIU": "Oceania",
}
