// Package registry records finished estimation runs in a SQL database:
// sqlite3 for a single machine, postgres when shared.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/perclft/sshqpe/pipeline"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID               string           `json:"id"`
	UnitCells        int              `json:"unit_cells"`
	Intracell        float64          `json:"intracell_hopping"`
	Intercell        float64          `json:"intercell_hopping"`
	EvaluationQubits int              `json:"evaluation_qubits"`
	Duration         float64          `json:"evolution_time"`
	Shots            int              `json:"shots"`
	Seed             int64            `json:"seed"`
	ErrorRate        float64          `json:"error_rate"`
	Backend          string           `json:"backend"`
	TopBitstring     string           `json:"top_bitstring"`
	TopEnergy        float64          `json:"top_energy"`
	TopError         float64          `json:"top_error"`
	Spread           float64          `json:"spread"`
	CreatedAt        time.Time        `json:"created_at"`
	Result           *pipeline.Result `json:"result,omitempty"`
}

type Registry struct {
	db     *sql.DB
	driver string
}

// Open connects, pings and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*Registry, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "database ping failed")
	}
	r := New(db, driver)
	if err := r.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an open database. driver selects the placeholder style.
func New(db *sql.DB, driver string) *Registry {
	return &Registry{db: db, driver: driver}
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Init creates the runs table if it doesn't exist.
func (r *Registry) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id VARCHAR(36) PRIMARY KEY,
		unit_cells INTEGER NOT NULL,
		intracell_hopping DOUBLE PRECISION NOT NULL,
		intercell_hopping DOUBLE PRECISION NOT NULL,
		evaluation_qubits INTEGER NOT NULL,
		evolution_time DOUBLE PRECISION NOT NULL,
		shots INTEGER NOT NULL,
		seed BIGINT NOT NULL,
		error_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		backend VARCHAR(64) NOT NULL,
		top_bitstring VARCHAR(64) NOT NULL DEFAULT '',
		top_energy DOUBLE PRECISION NOT NULL DEFAULT 0,
		top_error DOUBLE PRECISION NOT NULL DEFAULT 0,
		spread DOUBLE PRECISION NOT NULL,
		result_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_cells ON runs(unit_cells);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "initialize runs table")
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (r *Registry) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Record stores a finished run under its run ID.
func (r *Registry) Record(ctx context.Context, res *pipeline.Result) (*RunRecord, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, errors.Wrap(err, "serialize run")
	}
	rec := recordOf(res)
	rec.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO runs (id, unit_cells, intracell_hopping, intercell_hopping, evaluation_qubits,
			evolution_time, shots, seed, error_rate, backend, top_bitstring, top_energy, top_error,
			spread, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		rec.ID, rec.UnitCells, rec.Intracell, rec.Intercell, rec.EvaluationQubits,
		rec.Duration, rec.Shots, rec.Seed, rec.ErrorRate, rec.Backend, rec.TopBitstring,
		rec.TopEnergy, rec.TopError, rec.Spread, string(data), rec.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "save run")
	}
	return rec, nil
}

func recordOf(res *pipeline.Result) *RunRecord {
	rec := &RunRecord{
		ID:               res.RunID,
		UnitCells:        res.Spec.Lattice.UnitCells,
		Intracell:        res.Spec.Lattice.Intracell,
		Intercell:        res.Spec.Lattice.Intercell,
		EvaluationQubits: res.Spec.EvaluationQubits,
		Duration:         res.Spec.Duration,
		Shots:            res.Spec.Shots,
		Seed:             res.Seed,
		Backend:          res.Backend,
		Spread:           res.Spread,
		Result:           res,
	}
	if n := res.Spec.Noise; n != nil {
		rec.ErrorRate = math.Max(n.SingleQubitErrorRate, n.TwoQubitErrorRate)
	}
	if len(res.Estimates) > 0 {
		top := res.Estimates[0]
		rec.TopBitstring = top.Bitstring
		rec.TopEnergy = top.Energy
		rec.TopError = top.AbsoluteError
	}
	return rec
}

const columns = `id, unit_cells, intracell_hopping, intercell_hopping, evaluation_qubits,
	evolution_time, shots, seed, error_rate, backend, top_bitstring, top_energy, top_error,
	spread, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, extra ...any) (*RunRecord, error) {
	var rec RunRecord
	dest := []any{
		&rec.ID, &rec.UnitCells, &rec.Intracell, &rec.Intercell, &rec.EvaluationQubits,
		&rec.Duration, &rec.Shots, &rec.Seed, &rec.ErrorRate, &rec.Backend, &rec.TopBitstring,
		&rec.TopEnergy, &rec.TopError, &rec.Spread, &rec.CreatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

// Get loads one run including its full result.
func (r *Registry) Get(ctx context.Context, id string) (*RunRecord, error) {
	var resultJSON string
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+columns+`, result_json FROM runs WHERE id = ?`), id)
	rec, err := scanRecord(row, &resultJSON)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "database error")
	}
	var res pipeline.Result
	if err := json.Unmarshal([]byte(resultJSON), &res); err != nil {
		return nil, errors.Wrap(err, "deserialize run")
	}
	rec.Result = &res
	return rec, nil
}

type ListOptions struct {
	// UnitCells filters by chain size when > 0.
	UnitCells int
	Page      int
	PageSize  int
}

// List returns run summaries, newest first, without the full result.
func (r *Registry) List(ctx context.Context, opts ListOptions) ([]RunRecord, error) {
	query := `SELECT ` + columns + ` FROM runs WHERE 1=1`
	args := []any{}
	if opts.UnitCells > 0 {
		query += ` AND unit_cells = ?`
		args = append(args, opts.UnitCells)
	}

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "query failed")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		out = append(out, *rec)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}

// Delete removes a run.
func (r *Registry) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM runs WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "delete failed")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete failed")
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, id)
	}
	return nil
}
