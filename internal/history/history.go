// Package history keeps the bounded per-session record of recent scorings.
package history

import (
	"encoding/json"
	"strconv"
	"time"
)

// Capacity is the maximum number of entries a Log holds.
const Capacity = 10

// Columns is the fixed column order of the history table.
var Columns = []string{"Time", "Amount", "Hour", "Distance", "Intl", "Result", "Score", "Warning"}

// Entry is one successful scoring as shown to the caller.
type Entry struct {
	Time          time.Time `json:"time"`
	Amount        float64   `json:"amount"`
	Hour          int       `json:"hour"`
	Distance      float64   `json:"distance"`
	International bool      `json:"international"`
	Result        string    `json:"result"`
	Score         string    `json:"score"`
	Warning       string    `json:"warning"`
}

// FormatScore renders an anomaly score the way history rows show it.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}

// Row returns the entry's cells in Columns order.
func (e Entry) Row() []string {
	intl := "No"
	if e.International {
		intl = "Yes"
	}
	return []string{
		e.Time.Format(time.TimeOnly),
		strconv.FormatFloat(e.Amount, 'f', 2, 64),
		strconv.Itoa(e.Hour),
		strconv.FormatFloat(e.Distance, 'f', 1, 64),
		intl,
		e.Result,
		e.Score,
		e.Warning,
	}
}

// Log is an insertion-ordered list of at most Capacity entries. The zero
// value is an empty log. Mutations never write to storage another copy of
// the Log can see, so a Log passed by value is never changed by the callee.
type Log struct {
	entries []Entry
}

// Append pushes e to the end and evicts from the front until the log fits.
func (l *Log) Append(e Entry) {
	next := make([]Entry, 0, len(l.entries)+1)
	next = append(next, l.entries...)
	next = append(next, e)
	if over := len(next) - Capacity; over > 0 {
		next = next[over:]
	}
	l.entries = next
}

// Clear empties the log.
func (l *Log) Clear() {
	l.entries = nil
}

// Len returns the number of entries.
func (l Log) Len() int {
	return len(l.entries)
}

// Snapshot returns a copy of the entries, oldest first.
func (l Log) Snapshot() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clone returns an independent copy of the log.
func (l Log) Clone() Log {
	if len(l.entries) == 0 {
		return Log{}
	}
	return Log{entries: l.Snapshot()}
}

// Table is the tabular view of a log.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Table renders the log with the fixed Columns, oldest row first.
func (l Log) Table() Table {
	t := Table{
		Columns: append([]string(nil), Columns...),
		Rows:    make([][]string, 0, len(l.entries)),
	}
	for _, e := range l.entries {
		t.Rows = append(t.Rows, e.Row())
	}
	return t
}

// MarshalJSON encodes the log as an array of entries.
func (l Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Snapshot())
}

// UnmarshalJSON decodes an array of entries, keeping only the newest
// Capacity of them.
func (l *Log) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.entries = nil
	for _, e := range entries {
		l.Append(e)
	}
	return nil
}
