package journal

import (
	"fmt"
	"time"
)

// maxDetailSize caps the detail column.
const maxDetailSize = 4 * 1024

// Operations recorded by the CLI.
const (
	OpNodeAdd    = "node.add"
	OpNodeRemove = "node.remove"
	OpNodeStatus = "node.status"
	OpLinkAdd    = "link.add"
	OpLinkChain  = "link.chain"
	OpPrune      = "prune"
	OpFocus      = "focus"
)

// Event is one recorded store operation.
type Event struct {
	ID        int64
	Bank      string
	Op        string
	UID       string
	Detail    string
	CreatedAt int64
}

// Time returns CreatedAt as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// Record stores an event. A zero CreatedAt is set to now.
func (db *DB) Record(e Event) error {
	if len(e.Detail) > maxDetailSize {
		e.Detail = e.Detail[:maxDetailSize]
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO events (bank, op, uid, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Bank, e.Op, e.UID, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Recent returns the newest events for bank, newest first.
func (db *DB) Recent(bank string, limit int) ([]Event, error) {
	rows, err := db.Query(`
		SELECT id, bank, op, uid, detail, created_at
		FROM events WHERE bank = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, bank, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Bank, &e.Op, &e.UID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of events recorded for bank.
func (db *DB) Count(bank string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM events WHERE bank = ?`, bank).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}
