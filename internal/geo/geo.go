// Package geo derives transaction coordinates from IP addresses so that the
// impossible-travel rule can run on tables that only carry IPs.
package geo

import (
	"fmt"
	"net"
	"strconv"

	"github.com/oschwald/geoip2-golang"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Columns added by Enrich.
const (
	LatitudeColumn  = "geo_latitude"
	LongitudeColumn = "geo_longitude"
)

// Locator resolves an IP address to coordinates.
type Locator interface {
	Locate(ip string) (lat, lon float64, ok bool)
}

// CityLocator reads a MaxMind City database.
type CityLocator struct {
	db *geoip2.Reader
}

// Open opens a MaxMind City database file.
func Open(path string) (*CityLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return &CityLocator{db: db}, nil
}

// Locate returns the city coordinates for ip. Unparsable addresses and
// records without a location report ok=false.
func (l *CityLocator) Locate(ip string) (float64, float64, bool) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return 0, 0, false
	}
	city, err := l.db.City(addr)
	if err != nil || city == nil {
		return 0, 0, false
	}
	if city.Location.Latitude == 0 && city.Location.Longitude == 0 {
		return 0, 0, false
	}
	return city.Location.Latitude, city.Location.Longitude, true
}

// Close releases the database.
func (l *CityLocator) Close() error {
	return l.db.Close()
}

// Enrich appends coordinate columns looked up from the IP column and points
// the latitude and longitude roles at them. It does nothing when the table
// already has coordinates, has no IP column, or locator is nil. It returns
// the number of rows that were located.
func Enrich(table *domain.Table, cols *domain.Columns, locator Locator) int {
	if locator == nil || cols.IP == "" || !table.Has(cols.IP) {
		return 0
	}
	if table.Has(cols.Latitude) && table.Has(cols.Longitude) {
		return 0
	}

	lats := make([]string, table.Len())
	lons := make([]string, table.Len())
	cache := make(map[string][2]string)
	located := 0
	for i := range table.Rows {
		ip := table.Cell(i, cols.IP)
		if ip == "" {
			continue
		}
		pos, seen := cache[ip]
		if !seen {
			if lat, lon, ok := locator.Locate(ip); ok {
				pos = [2]string{
					strconv.FormatFloat(lat, 'f', -1, 64),
					strconv.FormatFloat(lon, 'f', -1, 64),
				}
			}
			cache[ip] = pos
		}
		if pos[0] == "" {
			continue
		}
		lats[i], lons[i] = pos[0], pos[1]
		located++
	}

	table.AddColumn(LatitudeColumn, lats)
	table.AddColumn(LongitudeColumn, lons)
	cols.Latitude = LatitudeColumn
	cols.Longitude = LongitudeColumn
	return located
}
