package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/constraint"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solver"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	parent_id     TEXT,
	mode          TEXT NOT NULL,
	interval_time REAL NOT NULL,
	shape_json    TEXT NOT NULL,
	solutions     BLOB NOT NULL,
	flagged       INTEGER NOT NULL,
	iterations    INTEGER NOT NULL,
	converged     INTEGER NOT NULL,
	settings_json TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS constraint_results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	constraint_name TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	name          TEXT NOT NULL,
	axes          TEXT NOT NULL,
	dims_json     TEXT NOT NULL,
	vals          BLOB NOT NULL,
	weights       BLOB NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS iteration_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	iteration      INTEGER NOT NULL,
	step_magnitude REAL,
	satisfied      INTEGER NOT NULL,
	converged      INTEGER NOT NULL,
	health_json    TEXT,
	reason         TEXT,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_run (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	run_id        TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region store-struct
// Store persists calibration runs, their solutions and constraint Results in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region commit-run
// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// CommitRun stores a run with the Results of its last iteration and makes it
// the active run. An empty RunID is filled in. The stored record is returned.
func (s *Store) CommitRun(rec RunRecord, results []solver.ConstraintResults) (RunRecord, error) {
	if rec.RunID == "" {
		rec.RunID = NewRunID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if len(rec.Solutions) != rec.Shape.Size() {
		return RunRecord{}, fmt.Errorf("run %s: %d solutions for shape %v", rec.RunID, len(rec.Solutions), rec.Shape.Dims())
	}
	rec.Flagged = countNonFinite(rec.Solutions)

	shapeJSON, err := json.Marshal(rec.Shape)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal shape: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return RunRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, parent_id, mode, interval_time, shape_json, solutions, flagged, iterations, converged, settings_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, nullIfEmpty(rec.ParentID), rec.Mode, rec.Time, string(shapeJSON),
		encodeComplex(rec.Solutions), rec.Flagged, rec.Iterations, boolInt(rec.Converged),
		nullIfEmpty(rec.SettingsJSON), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}

	for _, cr := range results {
		for seq, r := range cr.Results {
			if err := r.Validate(); err != nil {
				return RunRecord{}, fmt.Errorf("result %s/%s: %w", cr.Constraint, r.Name, err)
			}
			dimsJSON, err := json.Marshal(r.Dims)
			if err != nil {
				return RunRecord{}, fmt.Errorf("marshal dims: %w", err)
			}
			_, err = tx.Exec(
				`INSERT INTO constraint_results (run_id, constraint_name, seq, name, axes, dims_json, vals, weights)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.RunID, cr.Constraint, seq, r.Name, r.Axes, string(dimsJSON),
				encodeFloats(r.Vals), encodeFloats(r.Weights),
			)
			if err != nil {
				return RunRecord{}, fmt.Errorf("insert result: %w", err)
			}
		}
	}

	_, err = tx.Exec(
		`INSERT INTO active_run (id, run_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET run_id = excluded.run_id`,
		rec.RunID,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return RunRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion commit-run

// #region get-run
const runColumns = `run_id, parent_id, mode, interval_time, shape_json, solutions, flagged, iterations, converged, settings_json, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var parentID, settingsJSON sql.NullString
	var shapeJSON, createdStr string
	var solBlob []byte
	var converged int

	err := row.Scan(&rec.RunID, &parentID, &rec.Mode, &rec.Time, &shapeJSON, &solBlob,
		&rec.Flagged, &rec.Iterations, &converged, &settingsJSON, &createdStr)
	if err != nil {
		return RunRecord{}, err
	}
	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	if settingsJSON.Valid {
		rec.SettingsJSON = settingsJSON.String
	}
	if err := json.Unmarshal([]byte(shapeJSON), &rec.Shape); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal shape: %w", err)
	}
	rec.Solutions = decodeComplex(solBlob)
	rec.Converged = converged != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (RunRecord, error) {
	rec, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// GetActive reads the run whose solutions seed the next interval.
func (s *Store) GetActive() (RunRecord, error) {
	var runID string
	if err := s.db.QueryRow(`SELECT run_id FROM active_run WHERE id = 1`).Scan(&runID); err != nil {
		return RunRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetRun(runID)
}

// SetActive points the active run at an earlier run.
func (s *Store) SetActive(runID string) error {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	_, err = s.db.Exec(`UPDATE active_run SET run_id = ? WHERE id = 1`, runID)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion get-run

// #region get-results
// GetResults returns the Results stored for a run in insertion order.
func (s *Store) GetResults(runID string) ([]ResultRecord, error) {
	rows, err := s.db.Query(
		`SELECT constraint_name, seq, name, axes, dims_json, vals, weights
		 FROM constraint_results WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		rr := ResultRecord{RunID: runID}
		var dimsJSON string
		var vals, weights []byte
		if err := rows.Scan(&rr.Constraint, &rr.Seq, &rr.Result.Name, &rr.Result.Axes, &dimsJSON, &vals, &weights); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(dimsJSON), &rr.Result.Dims); err != nil {
			return nil, fmt.Errorf("unmarshal dims: %w", err)
		}
		rr.Result.Vals = decodeFloats(vals)
		rr.Result.Weights = decodeFloats(weights)
		out = append(out, rr)
	}
	return out, rows.Err()
}

// #endregion get-results

// #region encoding
func encodeFloats(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeFloats(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

// encodeComplex stores each value as real then imaginary part.
func encodeComplex(v []complex128) []byte {
	buf := make([]byte, len(v)*16)
	for i, c := range v {
		binary.LittleEndian.PutUint64(buf[i*16:], math.Float64bits(real(c)))
		binary.LittleEndian.PutUint64(buf[i*16+8:], math.Float64bits(imag(c)))
	}
	return buf
}

func decodeComplex(b []byte) []complex128 {
	v := make([]complex128, len(b)/16)
	for i := range v {
		re := math.Float64frombits(binary.LittleEndian.Uint64(b[i*16:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(b[i*16+8:]))
		v[i] = complex(re, im)
	}
	return v
}

func countNonFinite(v []complex128) int {
	n := 0
	for _, c := range v {
		if !constraint.IsFinite(c) {
			n++
		}
	}
	return n
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion encoding
