package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solver"
)

// #region log-iteration
// LogIteration writes an iteration entry to the iteration_log table.
func LogIteration(db *sql.DB, entry IterationEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var step interface{}
	if !math.IsNaN(entry.StepMagnitude) && !math.IsInf(entry.StepMagnitude, 0) {
		step = entry.StepMagnitude
	}

	_, err := db.Exec(
		`INSERT INTO iteration_log (run_id, iteration, step_magnitude, satisfied, converged, health_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Iteration,
		step,
		boolInt(entry.Satisfied),
		boolInt(entry.Converged),
		nullIfEmpty(entry.HealthJSON),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log iteration: %w", err)
	}
	return nil
}

// EntryFromReport converts a solver iteration report into a log entry.
func EntryFromReport(runID string, r solver.IterationReport) IterationEntry {
	entry := IterationEntry{
		RunID:         runID,
		Iteration:     r.Iteration,
		StepMagnitude: r.StepMagnitude,
		Satisfied:     r.Satisfied,
		Converged:     r.Converged,
		Reason:        r.Health.Reason,
	}
	if b, err := json.Marshal(healthMetrics(r)); err == nil {
		entry.HealthJSON = string(b)
	}
	return entry
}

// healthMetrics flattens the health check into name/value pairs. Non-finite
// values are dropped because JSON cannot carry them.
func healthMetrics(r solver.IterationReport) map[string]float64 {
	m := make(map[string]float64, len(r.Health.Metrics))
	for _, metric := range r.Health.Metrics {
		if math.IsNaN(metric.Value) || math.IsInf(metric.Value, 0) {
			continue
		}
		m[metric.Name] = metric.Value
	}
	return m
}

// #endregion log-iteration

// #region list-iterations
// ListIterations returns the iteration rows of a run in iteration order. A
// NULL step magnitude reads back as NaN.
func ListIterations(db *sql.DB, runID string) ([]IterationEntry, error) {
	rows, err := db.Query(
		`SELECT iteration, step_magnitude, satisfied, converged, health_json, reason, created_at
		 FROM iteration_log WHERE run_id = ? ORDER BY iteration, id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []IterationEntry
	for rows.Next() {
		e := IterationEntry{RunID: runID, StepMagnitude: math.NaN()}
		var step sql.NullFloat64
		var health, reason sql.NullString
		var satisfied, converged int
		var createdStr string
		if err := rows.Scan(&e.Iteration, &step, &satisfied, &converged, &health, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		if step.Valid {
			e.StepMagnitude = step.Float64
		}
		e.Satisfied = satisfied != 0
		e.Converged = converged != 0
		e.HealthJSON = health.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-iterations

// #region helpers
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

// #endregion helpers
