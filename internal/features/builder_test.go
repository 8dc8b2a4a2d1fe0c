package features

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

func sampleTable() *domain.Table {
	return &domain.Table{
		Header: []string{"Date", "Vendor", "Amount", "tx_id"},
		Rows: [][]string{
			{"2025-01-01 00:00:00", "VendorA", "100.00", "t0"},
			{"2025-01-01 01:00:00", "VendorB", "200.00", "t1"},
			{"2025-01-01 02:00:00", "VendorA", "100.00", "t2"},
			{"2025-01-01 03:00:00", "VendorC", "50.00", "t3"},
			{"2025-01-01 04:00:00", "VendorB", "200.00", "t4"},
			{"2025-01-01 05:00:00", "VendorA", "$5,000.00", "t5"},
			{"2025-01-01 06:00:00", "VendorD", "123.45", "t6"},
			{"2025-01-01 07:00:00", "VendorE", "10.00", "t7"},
			{"not a date", "VendorA", "n/a", "t8"},
			{"2025-01-01 09:00:00", "VendorF", "99.00", ""},
		},
	}
}

func sampleColumns() domain.Columns {
	return domain.Columns{
		TxID:      "tx_id",
		Timestamp: "Date",
		Amount:    "Amount",
		Entities:  []string{"Vendor"},
	}
}

func TestBuild(t *testing.T) {
	frame := NewBuilder(0).Build(sampleTable(), sampleColumns())

	t.Run("RecordCount", func(t *testing.T) {
		if frame.Len() != 10 {
			t.Fatalf("expected 10 records, got %d", frame.Len())
		}
	})

	t.Run("AmountCleaning", func(t *testing.T) {
		r := frame.Records[5]
		if !r.Amount.Valid {
			t.Fatal("expected $5,000.00 to parse")
		}
		if r.AmountValue() != 5000 {
			t.Errorf("expected 5000, got %v", r.AmountValue())
		}
		if frame.Records[8].Amount.Valid {
			t.Error("expected n/a to be null")
		}
		if frame.Quality.UnparsableAmounts != 1 {
			t.Errorf("expected 1 unparsable amount, got %d", frame.Quality.UnparsableAmounts)
		}
	})

	t.Run("TxIDFallsBackToRowPosition", func(t *testing.T) {
		if frame.Records[0].TxID != "t0" {
			t.Errorf("expected t0, got %s", frame.Records[0].TxID)
		}
		if frame.Records[9].TxID != "9" {
			t.Errorf("expected row position 9, got %s", frame.Records[9].TxID)
		}
	})

	t.Run("TimeFeatures", func(t *testing.T) {
		f := frame.Records[3].Features
		if f.Hour != 3 {
			t.Errorf("expected hour 3, got %d", f.Hour)
		}
		// 2025-01-01 is a Wednesday
		if f.Weekday != 2 {
			t.Errorf("expected weekday 2, got %d", f.Weekday)
		}
		wantSin := math.Sin(2 * math.Pi * 3 / 24)
		if math.Abs(f.HourSin-wantSin) > 1e-12 {
			t.Errorf("expected hour_sin %v, got %v", wantSin, f.HourSin)
		}
	})

	t.Run("UnparsableTimestamp", func(t *testing.T) {
		r := frame.Records[8]
		if r.HasTime {
			t.Error("expected no timestamp")
		}
		if r.Features.Hour != 0 || r.Features.HourCos != 1 || r.Features.HourSin != 0 {
			t.Errorf("expected hour 0 encoding, got %+v", r.Features)
		}
		if frame.Quality.UnparsableTimestamps != 1 {
			t.Errorf("expected 1 unparsable timestamp, got %d", frame.Quality.UnparsableTimestamps)
		}
	})

	t.Run("EntityFrequency", func(t *testing.T) {
		if got := frame.Records[0].Features.EntityFrequency; got != 0.4 {
			t.Errorf("expected VendorA frequency 0.4, got %v", got)
		}
		if got := frame.Records[3].Features.EntityFrequency; got != 0.1 {
			t.Errorf("expected VendorC frequency 0.1, got %v", got)
		}
	})

	t.Run("AmountFeaturesFinite", func(t *testing.T) {
		for _, r := range frame.Records {
			f := r.Features
			for _, v := range []float64{f.AmountLog, f.GlobalRobustZ, f.EntityRobustZ, f.AmountEWMA} {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("row %d: non-finite feature %+v", r.Row, f)
				}
			}
		}
		if frame.Records[8].Features.AmountLog != 0 {
			t.Errorf("expected null amount imputed as 0, got log %v", frame.Records[8].Features.AmountLog)
		}
	})

	t.Run("VelocityPerVendor", func(t *testing.T) {
		v := frame.Records[0].Features.Velocity["Vendor"]
		// VendorA rows: 100, 100, 5000 and a null
		if v.Count != 3 || v.Sum != 5200 {
			t.Errorf("expected {3 5200}, got %+v", v)
		}
	})
}

func TestBuildWithoutOptionalColumns(t *testing.T) {
	table := &domain.Table{
		Header: []string{"Amount"},
		Rows:   [][]string{{"10"}, {"20"}, {"30"}},
	}
	frame := NewBuilder(0).Build(table, domain.Columns{Amount: "Amount", Timestamp: "Date", Entities: []string{"Vendor"}})

	for _, r := range frame.Records {
		f := r.Features
		if f.Hour != DefaultHour || f.Weekday != DefaultWeekday || f.HourSin != 0 || f.HourCos != 0 {
			t.Errorf("expected default time features, got %+v", f)
		}
		if f.EntityFrequency != 0 {
			t.Errorf("expected entity frequency 0, got %v", f.EntityFrequency)
		}
		if f.EntityRobustZ != f.GlobalRobustZ {
			t.Errorf("expected entity z to equal global z, got %v vs %v", f.EntityRobustZ, f.GlobalRobustZ)
		}
	}
	if len(frame.Quality.MissingColumns) != 2 {
		t.Errorf("expected 2 missing columns, got %v", frame.Quality.MissingColumns)
	}
}

func TestMedianThenMAD(t *testing.T) {
	t.Run("ConstantSeriesUsesFloor", func(t *testing.T) {
		median, mad := MedianThenMAD([]float64{7, 7, 7, 7})
		if median != 7 || mad != 1 {
			t.Errorf("expected (7, 1), got (%v, %v)", median, mad)
		}
		if z := RobustZ(7, median, mad); z != 0 {
			t.Errorf("expected z 0, got %v", z)
		}
	})

	t.Run("Regular", func(t *testing.T) {
		median, mad := MedianThenMAD([]float64{1, 2, 3, 4, 100})
		if median != 3 || mad != 1 {
			t.Errorf("expected (3, 1), got (%v, %v)", median, mad)
		}
		if z := RobustZ(100, median, mad); math.Abs(z-0.6745*97) > 1e-9 {
			t.Errorf("unexpected z %v", z)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		_, mad := MedianThenMAD(nil)
		if mad != 1 {
			t.Errorf("expected mad floor 1, got %v", mad)
		}
	})
}

func TestEWMA(t *testing.T) {
	got := EWMA([]float64{10, 20, 0}, 0.2)
	want := []float64{10, 12, 9.6}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestParseTime(t *testing.T) {
	cases := map[string]time.Time{
		"2025-01-06T10:30:00Z": time.Date(2025, 1, 6, 10, 30, 0, 0, time.UTC),
		"2025-01-06 10:30":     time.Date(2025, 1, 6, 10, 30, 0, 0, time.UTC),
		"01/06/2025":           time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		"06-Jan-2025":          time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		got, ok := ParseTime(raw)
		if !ok || !got.Equal(want) {
			t.Errorf("%q: expected %v, got %v (ok=%v)", raw, want, got, ok)
		}
	}
	if _, ok := ParseTime("yesterday"); ok {
		t.Error("expected yesterday to be rejected")
	}
}

func TestCleanAmount(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"$1,234.50", "1234.5", true},
		{" -42 ", "-42", true},
		{"", "0", false},
		{"abc", "0", false},
		{"1e400", "0", false},
		{"-" + strings.Repeat("9", 400), "0", false},
		{"1e18", "1000000000000000000", true},
	}
	for _, tc := range cases {
		got, ok := CleanAmount(tc.raw)
		if ok != tc.ok || got.String() != tc.want {
			t.Errorf("%q: expected (%s, %v), got (%s, %v)", tc.raw, tc.want, tc.ok, got.String(), ok)
		}
	}
}

func TestBuildRejectsOverflowingAmounts(t *testing.T) {
	table := &domain.Table{
		Header: []string{"Amount"},
		Rows:   [][]string{{"1e400"}, {"10"}, {"20"}},
	}
	frame := NewBuilder(0).Build(table, domain.Columns{Amount: "Amount"})

	if frame.Records[0].Amount.Valid {
		t.Error("expected overflowing amount to be null")
	}
	if frame.Quality.UnparsableAmounts != 1 {
		t.Errorf("expected 1 unparsable amount, got %d", frame.Quality.UnparsableAmounts)
	}
	for _, r := range frame.Records {
		f := r.Features
		for name, v := range map[string]float64{
			"amountLog":     f.AmountLog,
			"globalRobustZ": f.GlobalRobustZ,
			"entityRobustZ": f.EntityRobustZ,
			"amountEwma":    f.AmountEWMA,
		} {
			if math.IsInf(v, 0) || math.IsNaN(v) {
				t.Errorf("row %d: expected finite %s, got %v", r.Row, name, v)
			}
		}
	}
	if _, err := json.Marshal(frame.Records); err != nil {
		t.Errorf("expected records to marshal, got %v", err)
	}
}
