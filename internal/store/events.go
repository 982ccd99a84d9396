package store

import (
	"fmt"
	"strings"

	"github.com/hasanabuzayed/openagent/internal/event"
)

// AppendEvent durably appends ev to the mission's log and returns the
// assigned sequence number. The sequence is computed inside the insert
// transaction so numbers stay gapless and strictly increasing even if
// several connections race on the same mission.
func (s *Store) AppendEvent(ev event.Event) (int64, error) {
	if !ev.Type.Persistable() {
		return 0, fmt.Errorf("event type %q is not persistable", ev.Type)
	}
	if ev.MissionID == "" {
		return 0, fmt.Errorf("event has no mission id")
	}

	meta, err := event.EncodeMeta(ev.Meta)
	if err != nil {
		return 0, fmt.Errorf("encode event meta: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE mission_id = ?`,
		ev.MissionID,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(
		`INSERT INTO events (mission_id, sequence, type, timestamp, content, meta)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.MissionID, seq, ev.Type, ev.Timestamp, ev.Content, meta,
	)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// EventFilter narrows ListEvents. Zero values mean "no constraint";
// Limit defaults to 200.
type EventFilter struct {
	Types  []event.Type
	Limit  int
	Offset int
}

// ListEvents returns a mission's events in sequence order.
func (s *Store) ListEvents(missionID string, filter EventFilter) ([]event.Stored, error) {
	query := `SELECT id, mission_id, sequence, type, timestamp, content, meta
	          FROM events WHERE mission_id = ?`
	args := []any{missionID}

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += " AND type IN (" + strings.Join(placeholders, ", ") + ")"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " ORDER BY sequence LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []event.Stored
	for rows.Next() {
		var ev event.Stored
		var content, meta *string
		if err := rows.Scan(&ev.ID, &ev.MissionID, &ev.Sequence, &ev.Type, &ev.Timestamp, &content, &meta); err != nil {
			return nil, err
		}
		if content != nil {
			ev.Content = *content
		}
		if meta != nil {
			m, err := event.DecodeMeta(*meta)
			if err != nil {
				return nil, fmt.Errorf("event %d: bad meta: %w", ev.ID, err)
			}
			ev.Meta = m
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LastSequence returns the highest sequence for a mission, 0 when the
// log is empty.
func (s *Store) LastSequence(missionID string) (int64, error) {
	var seq int64
	err := s.db.QueryRow(
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE mission_id = ?`,
		missionID,
	).Scan(&seq)
	return seq, err
}
