package domain

import "strings"

// Table is a loaded batch of raw transaction rows. Cells hold the text exactly
// as it was read; cleaning happens in the feature builder.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of a column in the header, or -1.
func (t *Table) Index(column string) int {
	if t == nil || column == "" {
		return -1
	}
	for i, h := range t.Header {
		if h == column {
			return i
		}
	}
	return -1
}

// Has reports whether the named column exists.
func (t *Table) Has(column string) bool {
	return t.Index(column) >= 0
}

// Cell returns the trimmed value at row/column, or "" when either is missing.
func (t *Table) Cell(row int, column string) string {
	idx := t.Index(column)
	if idx < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	r := t.Rows[row]
	if idx >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[idx])
}

// AddColumn appends a column. values must have one entry per row.
func (t *Table) AddColumn(name string, values []string) {
	t.Header = append(t.Header, name)
	for i := range t.Rows {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		t.Rows[i] = append(t.Rows[i], v)
	}
}

// Truncate keeps at most n rows and reports whether anything was dropped.
func (t *Table) Truncate(n int) bool {
	if n <= 0 || len(t.Rows) <= n {
		return false
	}
	t.Rows = t.Rows[:n]
	return true
}

// Columns names the table columns that play each role in an analysis.
// Roles are resolved by the caller; the engine never guesses them.
type Columns struct {
	TxID      string `json:"txId,omitempty" yaml:"tx_id"`
	Timestamp string `json:"timestamp,omitempty" yaml:"timestamp"`
	Amount    string `json:"amount,omitempty" yaml:"amount"`

	// Entities lists identity columns. The first one groups entity-level
	// statistics and duplicate detection; every entry gets velocity features.
	Entities []string `json:"entities,omitempty" yaml:"entities"`

	Card      string `json:"card,omitempty" yaml:"card"`
	Device    string `json:"device,omitempty" yaml:"device"`
	IP        string `json:"ip,omitempty" yaml:"ip"`
	Latitude  string `json:"latitude,omitempty" yaml:"latitude"`
	Longitude string `json:"longitude,omitempty" yaml:"longitude"`

	// Graph lists the entity columns linked by the collusion detector.
	// When empty, the detector uses Entities plus Card, Device and IP.
	Graph []string `json:"graph,omitempty" yaml:"graph"`
}

// IsZero reports whether no role is assigned.
func (c Columns) IsZero() bool {
	return c.TxID == "" && c.Timestamp == "" && c.Amount == "" && len(c.Entities) == 0 &&
		c.Card == "" && c.Device == "" && c.IP == "" && c.Latitude == "" && c.Longitude == "" &&
		len(c.Graph) == 0
}

// Entity returns the primary entity column, or "".
func (c Columns) Entity() string {
	if len(c.Entities) == 0 {
		return ""
	}
	return c.Entities[0]
}

// GraphColumns returns the collusion entity columns.
func (c Columns) GraphColumns() []string {
	if len(c.Graph) > 0 {
		return c.Graph
	}
	var cols []string
	seen := make(map[string]bool)
	for _, col := range append(append([]string{}, c.Entities...), c.Card, c.Device, c.IP) {
		if col == "" || seen[col] {
			continue
		}
		seen[col] = true
		cols = append(cols, col)
	}
	return cols
}

// Missing returns configured columns that the table does not contain.
func (c Columns) Missing(t *Table) []string {
	var missing []string
	check := func(col string) {
		if col != "" && !t.Has(col) {
			missing = append(missing, col)
		}
	}
	check(c.TxID)
	check(c.Timestamp)
	check(c.Amount)
	for _, e := range c.Entities {
		check(e)
	}
	check(c.Card)
	check(c.Device)
	check(c.IP)
	check(c.Latitude)
	check(c.Longitude)
	for _, g := range c.Graph {
		check(g)
	}
	return missing
}
