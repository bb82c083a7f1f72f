package persistence

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"

	"github.com/cynidn2x/precice/pkg/cplscheme"
	"github.com/cynidn2x/precice/pkg/errors"
)

// SQLiteLogger is a cplscheme.IterationLogger that mirrors every row
// into a sqlite database instead of (or alongside) the flat TXT
// tables, so a run's history can be queried after the fact.
type SQLiteLogger struct {
	db          *sql.DB
	participant string
	runID       string
	mu          sync.Mutex
}

// NewSQLiteLogger opens (creating if necessary) a sqlite database at
// path and prepares its schema.
func NewSQLiteLogger(path, participant string) (*SQLiteLogger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrUsage, "failed to open sqlite database")
	}
	db.SetMaxOpenConns(1)

	l := &SQLiteLogger{db: db, participant: participant, runID: uuid.NewString()}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Printf("persistence: warning: failed to set pragma %q: %v", pragma, err)
		}
	}

	return l, nil
}

func (l *SQLiteLogger) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS iterations (
		run_id TEXT NOT NULL,
		participant TEXT NOT NULL,
		time_window INTEGER NOT NULL,
		total_iterations INTEGER NOT NULL,
		iterations INTEGER NOT NULL,
		converged INTEGER NOT NULL,
		qn_columns INTEGER,
		deleted_qn_columns INTEGER,
		dropped_qn_columns INTEGER
	);
	CREATE TABLE IF NOT EXISTS convergence (
		run_id TEXT NOT NULL,
		participant TEXT NOT NULL,
		time_window INTEGER NOT NULL,
		iteration INTEGER NOT NULL,
		measure TEXT NOT NULL,
		residual REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id, time_window);
	CREATE INDEX IF NOT EXISTS idx_convergence_run ON convergence(run_id, time_window, iteration);
	`
	if _, err := l.db.Exec(query); err != nil {
		return errors.Wrap(err, errors.ErrUsage, "failed to initialize persistence schema")
	}
	return nil
}

// RunID identifies this logger's run within the shared database.
func (l *SQLiteLogger) RunID() string { return l.runID }

// LogIteration inserts one row into the iterations table.
func (l *SQLiteLogger) LogIteration(row cplscheme.IterationRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	converged := 0
	if row.Converged {
		converged = 1
	}
	var qn, deletedQN, droppedQN interface{}
	if row.HasAcceleration {
		qn, deletedQN, droppedQN = row.Diagnostics.QNColumns, row.Diagnostics.DeletedQNColumns, row.Diagnostics.DroppedQNColumns
	}

	_, err := l.db.Exec(`
		INSERT INTO iterations (run_id, participant, time_window, total_iterations, iterations, converged, qn_columns, deleted_qn_columns, dropped_qn_columns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.runID, l.participant, row.TimeWindow, row.TotalIterations, row.Iterations, converged, qn, deletedQN, droppedQN)
	if err != nil {
		return errors.Wrap(err, errors.ErrUsage, "failed to insert iterations row")
	}
	return nil
}

// LogConvergence inserts one row per residual into the convergence
// table, keyed by the measure's log header.
func (l *SQLiteLogger) LogConvergence(row cplscheme.ConvergenceRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(row.Residuals) == 0 {
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.ErrUsage, "failed to begin convergence insert transaction")
	}
	stmt, err := tx.Prepare(`
		INSERT INTO convergence (run_id, participant, time_window, iteration, measure, residual)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, errors.ErrUsage, "failed to prepare convergence insert")
	}
	defer stmt.Close()

	for measure, residual := range row.Residuals {
		if _, err := stmt.Exec(l.runID, l.participant, row.TimeWindow, row.Iteration, measure, residual); err != nil {
			tx.Rollback()
			return errors.Wrap(err, errors.ErrUsage, fmt.Sprintf("failed to insert residual for %s", measure))
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrUsage, "failed to commit convergence insert transaction")
	}
	return nil
}

// Close closes the underlying database handle.
func (l *SQLiteLogger) Close() error {
	return l.db.Close()
}
