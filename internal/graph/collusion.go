// Package graph links transactions through shared entity values and reports
// connected groups that look like card testing or account takeover rings.
package graph

import (
	"cmp"
	"slices"
	"strings"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Output caps per cluster.
const (
	MaxTxExamples = 5
	MaxEntities   = 10
)

// DefaultMinComponentSize is the smallest transaction count reported.
const DefaultMinComponentSize = 5

// Options configures a detection run.
type Options struct {
	// Columns are the entity columns to link. Defaults to the frame's graph columns.
	Columns      []string
	CardColumn   string
	DeviceColumn string

	MinComponentSize int
}

// Detector finds suspicious connected components.
type Detector struct{}

// NewDetector creates a detector.
func NewDetector() *Detector {
	return &Detector{}
}

type entityKey struct {
	column string
	value  string
}

// Detect builds the transaction/entity graph and returns the components with
// at least MinComponentSize transactions where cards outnumber devices more
// than two to one, or where a single device is shared.
func (d *Detector) Detect(frame *domain.Frame, opts Options) []domain.CollusionCluster {
	if frame == nil || frame.Len() == 0 {
		return nil
	}
	if opts.MinComponentSize <= 0 {
		opts.MinComponentSize = DefaultMinComponentSize
	}
	if len(opts.Columns) == 0 {
		opts.Columns = frame.Columns.GraphColumns()
	}
	if opts.CardColumn == "" {
		opts.CardColumn = frame.Columns.Card
	}
	if opts.DeviceColumn == "" {
		opts.DeviceColumn = frame.Columns.Device
	}

	var columns []string
	for _, c := range opts.Columns {
		if frame.Has(c) {
			columns = append(columns, c)
		}
	}
	if len(columns) == 0 {
		return nil
	}

	// Nodes 0..n-1 are transactions; entity nodes follow in discovery order.
	n := frame.Len()
	uf := newUnionFind(n)
	entityIndex := make(map[entityKey]int)
	var entities []entityKey
	for i, r := range frame.Records {
		for _, col := range columns {
			v := r.Field(col)
			if v == "" {
				continue
			}
			k := entityKey{column: col, value: v}
			id, ok := entityIndex[k]
			if !ok {
				id = uf.add()
				entityIndex[k] = id
				entities = append(entities, k)
			}
			uf.union(i, id)
		}
	}

	type component struct {
		firstRow int
		txs      []int
		entities []int
	}
	comps := make(map[int]*component)
	get := func(root, row int) *component {
		c, ok := comps[root]
		if !ok {
			c = &component{firstRow: row}
			comps[root] = c
		}
		return c
	}
	for i := 0; i < n; i++ {
		c := get(uf.find(i), i)
		c.txs = append(c.txs, i)
	}
	for j := range entities {
		node := n + j
		root := uf.find(node)
		if c, ok := comps[root]; ok {
			c.entities = append(c.entities, node)
		}
	}

	var clusters []domain.CollusionCluster
	var order []int
	for _, c := range comps {
		if len(c.txs) < opts.MinComponentSize {
			continue
		}
		cards, devices := 0, 0
		for _, node := range c.entities {
			switch entities[node-n].column {
			case opts.CardColumn:
				cards++
			case opts.DeviceColumn:
				devices++
			}
		}
		if !(cards > 2*devices || devices == 1) {
			continue
		}

		cluster := domain.CollusionCluster{
			ComponentSize: len(c.txs),
			NodeCount:     len(c.txs) + len(c.entities),
			TxCount:       len(c.txs),
			CardCount:     cards,
			DeviceCount:   devices,
		}
		for _, row := range c.txs[:min(MaxTxExamples, len(c.txs))] {
			cluster.TxExamples = append(cluster.TxExamples, frame.Records[row].TxID)
		}
		for _, node := range c.entities[:min(MaxEntities, len(c.entities))] {
			k := entities[node-n]
			cluster.Entities = append(cluster.Entities, strings.ToLower(k.column)+":"+k.value)
		}
		clusters = append(clusters, cluster)
		order = append(order, c.firstRow)
	}

	idx := make([]int, len(clusters))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int { return cmp.Compare(order[a], order[b]) })
	sorted := make([]domain.CollusionCluster, len(clusters))
	for i, j := range idx {
		sorted[i] = clusters[j]
	}
	return sorted
}
