package ingest

import (
	"strings"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Header keywords per role, checked against the lower-cased column name.
// Earlier keywords win when several columns match.
var (
	txIDNames      = []string{"tx_id", "txid", "transaction_id", "transaction id", "id"}
	timestampNames = []string{"timestamp", "datetime", "date", "time"}
	amountNames    = []string{"amount", "value", "total"}
	entityNames    = []string{"vendor", "merchant", "payee", "description"}
	cardNames      = []string{"card"}
	deviceNames    = []string{"device"}
	ipNames        = []string{"ip_address", "ip"}
	latitudeNames  = []string{"latitude", "lat"}
	longitudeNames = []string{"longitude", "lon", "lng"}
)

// DetectColumns guesses column roles from header names. Exact matches beat
// substring matches, and a column gets at most one role.
func DetectColumns(header []string) domain.Columns {
	used := make(map[string]bool)
	pick := func(keywords []string, exactOnly bool) string {
		if col := match(header, keywords, used, true); col != "" {
			used[col] = true
			return col
		}
		if exactOnly {
			return ""
		}
		if col := match(header, keywords, used, false); col != "" {
			used[col] = true
			return col
		}
		return ""
	}

	var cols domain.Columns
	// Short names like "ip" and "lat" only match exactly so that "description"
	// or "relation" are not taken for them.
	cols.Latitude = pick(latitudeNames, true)
	cols.Longitude = pick(longitudeNames, true)
	cols.IP = pick(ipNames, true)
	cols.TxID = pick(txIDNames, true)

	cols.Amount = pick(amountNames, false)
	cols.Timestamp = pick(timestampNames, false)
	cols.Card = pick(cardNames, false)
	cols.Device = pick(deviceNames, false)
	if entity := pick(entityNames, false); entity != "" {
		cols.Entities = []string{entity}
	}
	return cols
}

func match(header, keywords []string, used map[string]bool, exact bool) string {
	for _, kw := range keywords {
		for _, h := range header {
			if used[h] {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(h))
			if exact && name == kw {
				return h
			}
			if !exact && strings.Contains(name, kw) {
				return h
			}
		}
	}
	return ""
}
