// Package eventlog reads engagement activity exported as JSON Lines.
//
// Each line is either an item creation (kind set) or an engagement event:
//
//	{"item_id":"p1","user_id":"u1","kind":"achievement","created_at":"2026-03-01T12:00:00Z"}
//	{"item_id":"p1","type":"share","weight":3,"at":"2026-03-01T12:05:00Z"}
//	{"item_id":"p1","type":"watch_time","ratio":0.8}
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lazypower/permanence/internal/permanence"
)

// Record is one line of an event log.
type Record struct {
	ItemID string `json:"item_id"`

	// Item creation.
	UserID    string    `json:"user_id,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`

	// Engagement event.
	Type   string    `json:"type,omitempty"`
	Ratio  float64   `json:"ratio,omitempty"`
	Weight float64   `json:"weight,omitempty"`
	At     time.Time `json:"at,omitzero"`

	Line int `json:"-"`
}

// IsItem reports whether the record creates an item rather than recording an event.
func (r Record) IsItem() bool { return r.Kind != "" }

// Event converts the record to an engagement event.
func (r Record) Event() (permanence.Event, error) {
	typ, err := permanence.ParseEventType(r.Type)
	if err != nil {
		return permanence.Event{}, err
	}
	return permanence.Event{Type: typ, Ratio: r.Ratio, Weight: r.Weight, At: r.At}, nil
}

// LineError reports a line that could not be parsed.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

// Result holds the parsed records and the lines that were skipped.
type Result struct {
	Records []Record
	Skipped []LineError
}

// ParseFile reads a JSONL event log from path.
func ParseFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a JSONL event log. Blank lines are ignored; malformed lines are
// skipped and reported in Result.Skipped.
func Parse(r io.Reader) (*Result, error) {
	res := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 1MB line buffer

	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			res.Skipped = append(res.Skipped, LineError{Line: n, Err: err})
			continue
		}
		rec.Line = n
		res.Records = append(res.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return res, nil
}

func parseLine(line []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, err
	}
	if rec.ItemID == "" {
		return Record{}, fmt.Errorf("item_id is required")
	}
	if rec.IsItem() {
		if rec.UserID == "" {
			return Record{}, fmt.Errorf("user_id is required for item %s", rec.ItemID)
		}
		return rec, nil
	}
	if rec.Type == "" {
		return Record{}, fmt.Errorf("type or kind is required")
	}
	return rec, nil
}
