// Package store persists reduction runs and their focussed spectra in a
// local sqlite database so repeated reductions of the same measurement can
// be compared without re-reading the raw event files.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/neutron-data/powder.report/internal/hist"
	"github.com/neutron-data/powder.report/internal/units"
)

type Store struct {
	*sql.DB
}

// Open opens (or creates) the sqlite database at path. The schema is not
// created here; call MigrateUp before the first write.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// sqlite allows a single writer; the pipeline writes from one goroutine
	// but the diagnostics viewer may read concurrently.
	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA foreign_keys = ON;
		PRAGMA busy_timeout = 5000;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &Store{db}, nil
}

// Run is one row of the reduction_runs table.
type Run struct {
	ID         uuid.UUID
	Instrument string
	Mode       string
	Kind       string
	NumEvents  int64
	NumMasked  int64
	CreatedAt  time.Time
}

// SaveRun records a reduction run and its focussed spectrum. The spectrum
// bin edges are stored in angstrom regardless of the unit they carry.
func (s *Store) SaveRun(run Run, spectrum *hist.Histogram) error {
	if spectrum == nil {
		return fmt.Errorf("store: nil spectrum for run %s", run.ID)
	}
	edges, err := spectrum.Edges.To(units.Angstrom)
	if err != nil {
		return fmt.Errorf("store: spectrum edges: %w", err)
	}

	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.Exec(`
		INSERT INTO reduction_runs (id, instrument, mode, run_kind, num_events, num_masked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID.String(), run.Instrument, run.Mode, run.Kind, run.NumEvents, run.NumMasked,
		createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert reduction run: %w", err)
	}

	insert, err := tx.Prepare(`
		INSERT INTO spectrum_bins (run_id, bin_index, d_lo, d_hi, weight, variance)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for i := 0; i < spectrum.Len(); i++ {
		var variance sql.NullFloat64
		if spectrum.Variances != nil {
			variance = sql.NullFloat64{Float64: spectrum.Variances[i], Valid: true}
		}
		_, err = insert.Exec(run.ID.String(), i, edges.Values[i], edges.Values[i+1],
			spectrum.Weights[i], variance)
		if err != nil {
			return fmt.Errorf("failed to insert spectrum bin %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns all recorded runs, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.Query(`
		SELECT id, instrument, mode, run_kind, num_events, num_masked, created_at
		FROM reduction_runs
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var id, createdAt string
		if err := rows.Scan(&id, &r.Instrument, &r.Mode, &r.Kind, &r.NumEvents, &r.NumMasked, &createdAt); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse run id %q: %w", id, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns the run row for the given id.
func (s *Store) GetRun(id uuid.UUID) (Run, error) {
	var r Run
	var createdAt string
	err := s.QueryRow(`
		SELECT instrument, mode, run_kind, num_events, num_masked, created_at
		FROM reduction_runs WHERE id = ?
	`, id.String()).Scan(&r.Instrument, &r.Mode, &r.Kind, &r.NumEvents, &r.NumMasked, &createdAt)
	if err != nil {
		return Run{}, err
	}
	r.ID = id
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Run{}, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
	}
	return r, nil
}

// LoadSpectrum reassembles the focussed spectrum stored for the given run.
// The returned histogram carries edges in angstrom; variances are present
// only if they were stored.
func (s *Store) LoadSpectrum(id uuid.UUID) (*hist.Histogram, error) {
	rows, err := s.Query(`
		SELECT d_lo, d_hi, weight, variance
		FROM spectrum_bins WHERE run_id = ?
		ORDER BY bin_index
	`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges, weights, variances []float64
	hasVariances := true
	for rows.Next() {
		var lo, hi, w float64
		var v sql.NullFloat64
		if err := rows.Scan(&lo, &hi, &w, &v); err != nil {
			return nil, err
		}
		if len(edges) == 0 {
			edges = append(edges, lo)
		}
		edges = append(edges, hi)
		weights = append(weights, w)
		variances = append(variances, v.Float64)
		hasVariances = hasVariances && v.Valid
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("store: no spectrum for run %s", id)
	}

	h, err := hist.New(units.NewColumn(edges, units.Angstrom), weights)
	if err != nil {
		return nil, fmt.Errorf("store: stored spectrum for run %s is inconsistent: %w", id, err)
	}
	if hasVariances {
		h.Variances = variances
	}
	return h, nil
}
