package graph

import (
	"fmt"
	"testing"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
	"github.com/opensource-finance/osprey-forensics/internal/features"
)

var cols = domain.Columns{TxID: "tx_id", Card: "Card", Device: "Device"}

func frameOf(rows [][]string) *domain.Frame {
	table := &domain.Table{Header: []string{"tx_id", "Card", "Device"}, Rows: rows}
	return features.NewBuilder(0).Build(table, cols)
}

func TestDetect(t *testing.T) {
	t.Run("SharedDeviceManyCards", func(t *testing.T) {
		var rows [][]string
		for i := 0; i < 10; i++ {
			rows = append(rows, []string{fmt.Sprintf("T%d", i), fmt.Sprintf("C%d", i), "D1"})
		}
		clusters := NewDetector().Detect(frameOf(rows), Options{})

		if len(clusters) != 1 {
			t.Fatalf("expected 1 cluster, got %d", len(clusters))
		}
		c := clusters[0]
		if c.DeviceCount != 1 {
			t.Errorf("expected device_count 1, got %d", c.DeviceCount)
		}
		if c.CardCount != 10 {
			t.Errorf("expected card_count 10, got %d", c.CardCount)
		}
		if c.ComponentSize != 10 || c.TxCount != 10 {
			t.Errorf("expected component_size 10 and tx_count 10, got %d and %d", c.ComponentSize, c.TxCount)
		}
		if c.NodeCount != 21 {
			t.Errorf("expected 21 nodes, got %d", c.NodeCount)
		}
		if len(c.TxExamples) != MaxTxExamples || c.TxExamples[0] != "T0" {
			t.Errorf("unexpected tx examples %v", c.TxExamples)
		}
		if len(c.Entities) != MaxEntities {
			t.Errorf("expected %d entities, got %d", MaxEntities, len(c.Entities))
		}
		if c.Entities[0] != "card:C0" || c.Entities[1] != "device:D1" {
			t.Errorf("unexpected entity labels %v", c.Entities[:2])
		}
	})

	t.Run("BalancedCardsAndDevices", func(t *testing.T) {
		rows := [][]string{
			{"T1", "C1", "D1"}, {"T2", "C1", "D2"}, {"T3", "C2", "D2"},
			{"T4", "C2", "D1"}, {"T5", "C1", "D1"}, {"T6", "C2", "D2"},
		}
		if clusters := NewDetector().Detect(frameOf(rows), Options{}); len(clusters) != 0 {
			t.Errorf("expected no clusters, got %+v", clusters)
		}
	})

	t.Run("BelowMinimumSize", func(t *testing.T) {
		rows := [][]string{{"T1", "C1", "D1"}, {"T2", "C2", "D1"}, {"T3", "C3", "D1"}}
		if clusters := NewDetector().Detect(frameOf(rows), Options{}); len(clusters) != 0 {
			t.Errorf("expected no clusters, got %+v", clusters)
		}
		clusters := NewDetector().Detect(frameOf(rows), Options{MinComponentSize: 3})
		if len(clusters) != 1 {
			t.Errorf("expected 1 cluster with a lower minimum, got %d", len(clusters))
		}
	})

	t.Run("OrderedByFirstRow", func(t *testing.T) {
		var rows [][]string
		for i := 0; i < 4; i++ {
			rows = append(rows,
				[]string{fmt.Sprintf("B%d", i), fmt.Sprintf("CB%d", i), "DB"},
				[]string{fmt.Sprintf("A%d", i), fmt.Sprintf("CA%d", i), "DA"},
			)
		}
		// move group A ahead of group B
		rows[0], rows[1] = rows[1], rows[0]
		clusters := NewDetector().Detect(frameOf(rows), Options{MinComponentSize: 4})
		if len(clusters) != 2 {
			t.Fatalf("expected 2 clusters, got %d", len(clusters))
		}
		if clusters[0].TxExamples[0] != "A0" || clusters[1].TxExamples[0] != "B0" {
			t.Errorf("unexpected order: %v then %v", clusters[0].TxExamples, clusters[1].TxExamples)
		}
	})

	t.Run("EmptyValuesDoNotLink", func(t *testing.T) {
		var rows [][]string
		for i := 0; i < 6; i++ {
			rows = append(rows, []string{fmt.Sprintf("T%d", i), fmt.Sprintf("C%d", i), ""})
		}
		if clusters := NewDetector().Detect(frameOf(rows), Options{}); len(clusters) != 0 {
			t.Errorf("expected no clusters, got %+v", clusters)
		}
	})

	t.Run("MissingColumns", func(t *testing.T) {
		frame := frameOf([][]string{{"T1", "C1", "D1"}})
		clusters := NewDetector().Detect(frame, Options{Columns: []string{"IP"}})
		if clusters != nil {
			t.Errorf("expected nil, got %+v", clusters)
		}
	})
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind(3)
	d := uf.add()
	uf.union(0, d)
	uf.union(2, d)

	if uf.find(0) != uf.find(2) {
		t.Error("expected 0 and 2 to share a root")
	}
	if uf.find(1) == uf.find(0) {
		t.Error("expected 1 to stay separate")
	}
}
