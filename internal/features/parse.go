package features

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var amountReplacer = strings.NewReplacer("$", "", ",", "")

// MaxAmount is the largest accepted amount magnitude. Larger values keep
// derived sums and squared distances from overflowing float64.
const MaxAmount = 1e18

// CleanAmount strips currency symbols and thousands separators and parses the
// remainder. ok is false for empty or unparsable input and for amounts with a
// magnitude above MaxAmount.
func CleanAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(amountReplacer.Replace(raw))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if f, _ := d.Float64(); math.IsInf(f, 0) || math.IsNaN(f) || math.Abs(f) > MaxAmount {
		return decimal.Zero, false
	}
	return d, true
}

// timeLayouts are tried in order by ParseTime.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006 15:04",
	"1/2/2006",
	"02-Jan-2006 15:04:05",
	"02-Jan-2006",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"2 January 2006",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTime parses a timestamp in any of the common layouts. Values without a
// zone are read as UTC.
func ParseTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
