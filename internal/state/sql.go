package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/lib/pq"              // postgres driver
	_ "modernc.org/sqlite"             // pure-Go sqlite driver
)

// SQLStore is a durable Store backed by database/sql. The driver name
// selects the dialect: "sqlite" (the default embedded backend, grounded on
// modernc.org/sqlite), "mysql", or "postgres".
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open connects and runs the store's migration, creating the runs/steps
// tables if they don't already exist.
func Open(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reactor_runs (
			run_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			inputs TEXT,
			output TEXT,
			error TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS reactor_steps (
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			status TEXT NOT NULL,
			inputs TEXT,
			output TEXT,
			error TEXT,
			retry_count INTEGER,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			PRIMARY KEY (run_id, step_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %s store: %w", s.driver, err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Note: queries use "?" placeholders, native to sqlite and mysql. Running
// this store against postgres requires a placeholder-rewriting driver
// wrapper; out of scope here since sqlite is the default backend.

func (s *SQLStore) RunStarted(runID, workflowID string, inputs map[string]interface{}, startedAt time.Time) error {
	encoded, _ := json.Marshal(inputs)
	_, err := s.db.Exec(
		`INSERT INTO reactor_runs (run_id, workflow_id, status, inputs, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, workflowID, "running", string(encoded), startedAt,
	)
	return err
}

func (s *SQLStore) StepStarted(runID, stepID string, startedAt time.Time, inputs map[string]interface{}) error {
	encoded, _ := json.Marshal(inputs)
	_, err := s.db.Exec(
		`INSERT INTO reactor_steps (run_id, step_id, status, inputs, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, stepID, "running", string(encoded), startedAt,
	)
	return err
}

func (s *SQLStore) StepFinalized(runID, stepID, status string, output interface{}, errMsg string, completedAt time.Time, retryCount int) error {
	encoded, _ := json.Marshal(output)
	_, err := s.db.Exec(
		`UPDATE reactor_steps SET status = ?, output = ?, error = ?, retry_count = ?, completed_at = ? WHERE run_id = ? AND step_id = ?`,
		status, string(encoded), errMsg, retryCount, completedAt, runID, stepID,
	)
	return err
}

func (s *SQLStore) RunFinalized(runID, status string, output map[string]interface{}, completedAt time.Time, errMsg string) error {
	encoded, _ := json.Marshal(output)
	_, err := s.db.Exec(
		`UPDATE reactor_runs SET status = ?, output = ?, error = ?, completed_at = ? WHERE run_id = ?`,
		status, string(encoded), errMsg, completedAt, runID,
	)
	return err
}
