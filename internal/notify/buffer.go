package notify

import "sync"

// Record is an event stamped with its position in a Buffer.
type Record struct {
	Cursor int64 `json:"cursor"`
	Event
}

// Buffer keeps the most recent events for polling front ends.
type Buffer struct {
	mu         sync.RWMutex
	nextCursor int64
	max        int
	records    []Record
}

// NewBuffer creates a bounded in-memory event buffer.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 500
	}
	return &Buffer{
		max:     max,
		records: make([]Record, 0, max),
	}
}

func (b *Buffer) Notify(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextCursor++
	b.records = append(b.records, Record{Cursor: b.nextCursor, Event: e})
	if len(b.records) > b.max {
		trim := len(b.records) - b.max
		b.records = append([]Record(nil), b.records[trim:]...)
	}
}

// Since returns records with a cursor strictly greater than cursor.
func (b *Buffer) Since(cursor int64) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Record, 0, len(b.records))
	for _, r := range b.records {
		if r.Cursor > cursor {
			out = append(out, r)
		}
	}
	return out
}
