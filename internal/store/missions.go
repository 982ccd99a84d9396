package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hasanabuzayed/openagent/internal/mission"
)

func (s *Store) CreateMission(m *mission.Mission) error {
	var historyJSON *string
	if len(m.History) > 0 {
		data, err := json.Marshal(m.History)
		if err != nil {
			return err
		}
		str := string(data)
		historyJSON = &str
	}

	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO missions (id, title, status, workspace_id, harness, agent, model_override, history, archived, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.Status, m.WorkspaceID, m.Harness, m.Agent,
		m.ModelOverride, historyJSON, m.Archived, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (s *Store) GetMission(id string) (*mission.Mission, error) {
	row := s.db.QueryRow(
		`SELECT id, title, status, workspace_id, harness, agent, model_override, history, archived, created_at, updated_at
		 FROM missions WHERE id = ?`, id,
	)
	return scanMission(row)
}

func (s *Store) UpdateMission(m *mission.Mission) error {
	var historyJSON *string
	if len(m.History) > 0 {
		data, err := json.Marshal(m.History)
		if err != nil {
			return err
		}
		str := string(data)
		historyJSON = &str
	}

	m.UpdatedAt = time.Now()

	res, err := s.db.Exec(
		`UPDATE missions SET title = ?, status = ?, workspace_id = ?, agent = ?, model_override = ?, history = ?, archived = ?, updated_at = ?
		 WHERE id = ?`,
		m.Title, m.Status, m.WorkspaceID, m.Agent, m.ModelOverride,
		historyJSON, m.Archived, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("mission %s not found", m.ID)
	}
	return err
}

// SetMissionStatus is the narrow status-set path used by the API and by
// the runner on turn completion.
func (s *Store) SetMissionStatus(id string, status mission.Status) error {
	res, err := s.db.Exec(
		`UPDATE missions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("mission %s not found", id)
	}
	return err
}

// ArchiveMission is the soft delete: the row stays for event history.
func (s *Store) ArchiveMission(id string) error {
	_, err := s.db.Exec(
		`UPDATE missions SET archived = 1, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	return err
}

func (s *Store) ListMissions(limit int) ([]*mission.Mission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, title, status, workspace_id, harness, agent, model_override, history, archived, created_at, updated_at
		 FROM missions WHERE archived = 0 ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missions []*mission.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (*mission.Mission, error) {
	var m mission.Mission
	var workspaceID, agent, modelOverride, historyJSON sql.NullString

	err := row.Scan(
		&m.ID, &m.Title, &m.Status, &workspaceID, &m.Harness,
		&agent, &modelOverride, &historyJSON, &m.Archived,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if workspaceID.Valid {
		m.WorkspaceID = workspaceID.String
	}
	if agent.Valid {
		m.Agent = agent.String
	}
	if modelOverride.Valid {
		m.ModelOverride = modelOverride.String
	}
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &m.History); err != nil {
			return nil, fmt.Errorf("mission %s: bad history: %w", m.ID, err)
		}
	}

	return &m, nil
}
