// Package features turns a raw transaction table into a frame of cleaned
// records with derived numeric features.
package features

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
	"github.com/opensource-finance/osprey-forensics/internal/velocity"
)

// EWMAAlpha is the smoothing factor of the amount moving average.
const EWMAAlpha = 0.2

// Time features used when the timestamp column is absent.
const (
	DefaultHour    = 12
	DefaultWeekday = 0
)

// Builder derives the feature vector of every transaction in a batch.
type Builder struct {
	velocity *velocity.Service
}

// NewBuilder creates a builder. velocityWindow of 0 keeps whole-batch velocity.
func NewBuilder(velocityWindow time.Duration) *Builder {
	return &Builder{velocity: velocity.NewService(velocityWindow)}
}

// Build cleans the raw amount and timestamp fields and derives features.
// Missing optional columns skip the features that depend on them.
func (b *Builder) Build(table *domain.Table, cols domain.Columns) *domain.Frame {
	frame := domain.NewFrame(cols, table.Header)
	frame.Quality.MissingColumns = cols.Missing(table)

	hasTxID := frame.Has(cols.TxID)
	hasTime := frame.Has(cols.Timestamp)
	hasAmount := frame.Has(cols.Amount)

	frame.Records = make([]*domain.Record, table.Len())
	for i, row := range table.Rows {
		rec := &domain.Record{
			Row:    i,
			TxID:   strconv.Itoa(i),
			Fields: make(map[string]string, len(table.Header)),
		}
		for j, h := range table.Header {
			if j < len(row) {
				rec.Fields[h] = strings.TrimSpace(row[j])
			}
		}
		if hasTxID {
			if id := rec.Fields[cols.TxID]; id != "" {
				rec.TxID = id
			}
		}
		if hasAmount {
			if amt, ok := CleanAmount(rec.Fields[cols.Amount]); ok {
				rec.Amount = decimal.NewNullDecimal(amt)
			} else {
				frame.Quality.UnparsableAmounts++
			}
		}
		if hasTime {
			if ts, ok := ParseTime(rec.Fields[cols.Timestamp]); ok {
				rec.Timestamp = ts
				rec.HasTime = true
			} else {
				frame.Quality.UnparsableTimestamps++
			}
		}
		frame.Records[i] = rec
	}

	timeFeatures(frame, hasTime)
	entityFrequency(frame)
	if hasAmount {
		amountFeatures(frame)
	}
	b.velocityFeatures(frame)

	if !frame.Quality.Clean() {
		slog.Debug("coerced malformed input values",
			"unparsable_amounts", frame.Quality.UnparsableAmounts,
			"unparsable_timestamps", frame.Quality.UnparsableTimestamps,
		)
	}
	return frame
}

func timeFeatures(frame *domain.Frame, hasTime bool) {
	for _, r := range frame.Records {
		f := &r.Features
		switch {
		case !hasTime:
			f.Hour, f.Weekday = DefaultHour, DefaultWeekday
			f.HourSin, f.HourCos = 0, 0
		case r.HasTime:
			f.Hour = r.Timestamp.Hour()
			f.Weekday = (int(r.Timestamp.Weekday()) + 6) % 7 // Monday = 0
			f.HourSin, f.HourCos = cyclicHour(f.Hour)
		default:
			f.Hour, f.Weekday = 0, 0
			f.HourSin, f.HourCos = cyclicHour(0)
		}
	}
}

func cyclicHour(hour int) (float64, float64) {
	angle := 2 * math.Pi * float64(hour) / 24
	return math.Sin(angle), math.Cos(angle)
}

// entityGroups maps each non-empty entity value to its record indexes.
func entityGroups(frame *domain.Frame) map[string][]int {
	col := frame.Columns.Entity()
	if !frame.Has(col) {
		return nil
	}
	groups := make(map[string][]int)
	for i, r := range frame.Records {
		if v := r.Field(col); v != "" {
			groups[v] = append(groups[v], i)
		}
	}
	return groups
}

func entityFrequency(frame *domain.Frame) {
	n := frame.Len()
	if n == 0 {
		return
	}
	for _, idx := range entityGroups(frame) {
		freq := float64(len(idx)) / float64(n)
		for _, i := range idx {
			frame.Records[i].Features.EntityFrequency = freq
		}
	}
}

func amountFeatures(frame *domain.Frame) {
	amounts := make([]float64, frame.Len())
	for i, r := range frame.Records {
		amounts[i] = r.AmountValue()
	}

	median, mad := MedianThenMAD(amounts)
	ewma := EWMA(amounts, EWMAAlpha)
	for i, r := range frame.Records {
		f := &r.Features
		f.AmountLog = math.Log1p(math.Max(0, amounts[i]))
		f.GlobalRobustZ = RobustZ(amounts[i], median, mad)
		f.AmountEWMA = ewma[i]
	}

	groups := entityGroups(frame)
	if groups == nil {
		for _, r := range frame.Records {
			r.Features.EntityRobustZ = r.Features.GlobalRobustZ
		}
		return
	}
	for _, idx := range groups {
		vals := make([]float64, len(idx))
		for k, i := range idx {
			vals[k] = amounts[i]
		}
		gm, gmad := MedianThenMAD(vals)
		for k, i := range idx {
			frame.Records[i].Features.EntityRobustZ = RobustZ(vals[k], gm, gmad)
		}
	}
}

func (b *Builder) velocityFeatures(frame *domain.Frame) {
	for _, col := range frame.Columns.Entities {
		if !frame.Has(col) {
			continue
		}
		vel := b.velocity.Aggregate(frame, col)
		for i, r := range frame.Records {
			if r.Features.Velocity == nil {
				r.Features.Velocity = make(map[string]domain.Velocity)
			}
			r.Features.Velocity[col] = vel[i]
		}
	}
}
