package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hasanabuzayed/openagent/internal/workspace"
)

func (s *Store) CreateWorkspace(ws *workspace.Workspace) error {
	env, err := encodeEnv(ws.Env)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO workspaces (id, name, kind, root, status, error_message, env, skills, init_script, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.Name, ws.Kind, ws.Root, ws.Status, ws.ErrorMessage,
		env, strings.Join(ws.Skills, ","), ws.InitScript, ws.CreatedAt,
	)
	return err
}

func (s *Store) GetWorkspace(id string) (*workspace.Workspace, error) {
	row := s.db.QueryRow(
		`SELECT id, name, kind, root, status, error_message, env, skills, init_script, created_at
		 FROM workspaces WHERE id = ?`, id,
	)
	ws, err := scanWorkspace(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", workspace.ErrNotFound, id)
	}
	return ws, err
}

func (s *Store) UpdateWorkspace(ws *workspace.Workspace) error {
	env, err := encodeEnv(ws.Env)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`UPDATE workspaces SET name = ?, status = ?, error_message = ?, env = ?, skills = ?, init_script = ?
		 WHERE id = ?`,
		ws.Name, ws.Status, ws.ErrorMessage, env,
		strings.Join(ws.Skills, ","), ws.InitScript, ws.ID,
	)
	return err
}

func (s *Store) DeleteWorkspace(id string) error {
	_, err := s.db.Exec(`DELETE FROM workspaces WHERE id = ?`, id)
	return err
}

func (s *Store) ListWorkspaces() ([]*workspace.Workspace, error) {
	rows, err := s.db.Query(
		`SELECT id, name, kind, root, status, error_message, env, skills, init_script, created_at
		 FROM workspaces ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []*workspace.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

func scanWorkspace(row rowScanner) (*workspace.Workspace, error) {
	var ws workspace.Workspace
	var errMsg, env, skills, initScript sql.NullString

	err := row.Scan(
		&ws.ID, &ws.Name, &ws.Kind, &ws.Root, &ws.Status,
		&errMsg, &env, &skills, &initScript, &ws.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if errMsg.Valid {
		ws.ErrorMessage = errMsg.String
	}
	if env.Valid && env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &ws.Env); err != nil {
			return nil, fmt.Errorf("workspace %s: bad env: %w", ws.ID, err)
		}
	}
	if skills.Valid && skills.String != "" {
		ws.Skills = strings.Split(skills.String, ",")
	}
	if initScript.Valid {
		ws.InitScript = initScript.String
	}

	return &ws, nil
}

func encodeEnv(env map[string]string) (string, error) {
	if len(env) == 0 {
		return "", nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
