package rules

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Haversine.
	EarthRadiusKm = 6371.0
	// MaxTravelSpeedKmh is the implied speed above which consecutive
	// transactions of one card are physically implausible.
	MaxTravelSpeedKmh = 1000.0
)

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

type hop struct {
	rec      *domain.Record
	lat, lon float64
	located  bool
}

// ImpossibleTravel flags the later transaction of each consecutive pair on a
// card whose implied speed exceeds MaxTravelSpeedKmh. It needs the card,
// timestamp, latitude and longitude columns.
func ImpossibleTravel(frame *domain.Frame) []domain.Alert {
	cols := frame.Columns
	for _, c := range []string{cols.Card, cols.Timestamp, cols.Latitude, cols.Longitude} {
		if !frame.Has(c) {
			return nil
		}
	}

	var order []string
	byCard := make(map[string][]hop)
	for _, r := range frame.Records {
		card := r.Field(cols.Card)
		if card == "" || !r.HasTime {
			continue
		}
		h := hop{rec: r}
		lat, errLat := strconv.ParseFloat(r.Field(cols.Latitude), 64)
		lon, errLon := strconv.ParseFloat(r.Field(cols.Longitude), 64)
		if errLat == nil && errLon == nil && !math.IsNaN(lat) && !math.IsNaN(lon) {
			h.lat, h.lon, h.located = lat, lon, true
		}
		if _, ok := byCard[card]; !ok {
			order = append(order, card)
		}
		byCard[card] = append(byCard[card], h)
	}

	type flagged struct {
		row   int
		alert domain.Alert
	}
	var hits []flagged
	for _, card := range order {
		hops := byCard[card]
		slices.SortStableFunc(hops, func(a, b hop) int {
			return a.rec.Timestamp.Compare(b.rec.Timestamp)
		})
		for i := 1; i < len(hops); i++ {
			prev, cur := hops[i-1], hops[i]
			if !prev.located || !cur.located {
				continue
			}
			hours := cur.rec.Timestamp.Sub(prev.rec.Timestamp).Hours()
			if hours <= 0 {
				continue
			}
			km := Haversine(prev.lat, prev.lon, cur.lat, cur.lon)
			speed := km / hours
			if speed <= MaxTravelSpeedKmh {
				continue
			}
			hits = append(hits, flagged{
				row: cur.rec.Row,
				alert: domain.Alert{
					TxID:     cur.rec.TxID,
					Type:     domain.AlertImpossibleTravel,
					Severity: domain.SeverityHigh,
					Note: fmt.Sprintf("Impossible Travel: %s km in %sh (%s km/h)",
						humanize.FormatFloat("#,###.#", km),
						humanize.FormatFloat("#,###.##", hours),
						humanize.FormatFloat("#,###.", speed)),
				},
			})
		}
	}

	slices.SortStableFunc(hits, func(a, b flagged) int { return cmp.Compare(a.row, b.row) })
	alerts := make([]domain.Alert, len(hits))
	for i, h := range hits {
		alerts[i] = h.alert
	}
	return alerts
}
