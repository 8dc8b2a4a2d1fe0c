// Package velocity provides per-identity transaction velocity aggregates.
package velocity

import (
	"slices"
	"sort"
	"time"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Service aggregates transaction counts and amounts per identity value.
//
// With a zero window the aggregate covers the whole batch, so every row of an
// identity carries the same count and sum. With a positive window and a
// timestamp column, each row sees only the identity's transactions in
// [t-window, t].
type Service struct {
	window time.Duration
}

// NewService creates a velocity service. A zero window means whole-batch.
func NewService(window time.Duration) *Service {
	if window < 0 {
		window = 0
	}
	return &Service{window: window}
}

// Window returns the configured window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Aggregate returns one Velocity per record for the identity column.
// Count is the number of non-null amounts; Sum adds amounts with nulls as 0.
// Rows without an identity value get a zero Velocity.
func (s *Service) Aggregate(frame *domain.Frame, column string) []domain.Velocity {
	out := make([]domain.Velocity, frame.Len())
	if !frame.Has(column) {
		return out
	}

	groups := make(map[string][]int)
	var order []string
	for i, r := range frame.Records {
		id := r.Field(column)
		if id == "" {
			continue
		}
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], i)
	}

	windowed := s.window > 0 && frame.Has(frame.Columns.Timestamp)
	for _, id := range order {
		idx := groups[id]
		if windowed {
			s.windowed(frame, idx, out)
			continue
		}
		total := tally(frame, idx)
		for _, i := range idx {
			out[i] = total
		}
	}
	return out
}

// windowed fills trailing-window aggregates for one identity's rows.
func (s *Service) windowed(frame *domain.Frame, idx []int, out []domain.Velocity) {
	var timed []int
	for _, i := range idx {
		r := frame.Records[i]
		if !r.HasTime {
			out[i] = tally(frame, []int{i})
			continue
		}
		timed = append(timed, i)
	}

	slices.SortStableFunc(timed, func(a, b int) int {
		return frame.Records[a].Timestamp.Compare(frame.Records[b].Timestamp)
	})

	// prefix sums over the time-sorted rows
	counts := make([]int, len(timed)+1)
	sums := make([]float64, len(timed)+1)
	for p, i := range timed {
		r := frame.Records[i]
		counts[p+1] = counts[p]
		if r.Amount.Valid {
			counts[p+1]++
		}
		sums[p+1] = sums[p] + r.AmountValue()
	}

	for p, i := range timed {
		t := frame.Records[i].Timestamp
		from := t.Add(-s.window)
		lo := sort.Search(len(timed), func(k int) bool {
			return !frame.Records[timed[k]].Timestamp.Before(from)
		})
		hi := sort.Search(len(timed), func(k int) bool {
			return frame.Records[timed[k]].Timestamp.After(t)
		})
		if hi <= p {
			hi = p + 1
		}
		out[i] = domain.Velocity{
			Count: counts[hi] - counts[lo],
			Sum:   sums[hi] - sums[lo],
		}
	}
}

func tally(frame *domain.Frame, idx []int) domain.Velocity {
	var v domain.Velocity
	for _, i := range idx {
		r := frame.Records[i]
		if r.Amount.Valid {
			v.Count++
		}
		v.Sum += r.AmountValue()
	}
	return v
}
