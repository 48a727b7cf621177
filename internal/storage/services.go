package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"crucible/internal/errs"
	"crucible/internal/record"
	"crucible/internal/recordtypes"
)

// ReadyServices returns service record ids whose dependencies are all in a
// terminal status, highest priority first. A service with no dependencies yet
// (fresh, never initialized) is ready too.
func (s *Store) ReadyServices(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sv.record_id FROM services sv
		JOIN records r ON r.id = sv.record_id
		WHERE r.status IN ('waiting', 'running')
		  AND NOT EXISTS (
			SELECT 1 FROM service_dependencies dep
			JOIN records child ON child.id = dep.child_record_id
			WHERE dep.service_record_id = sv.record_id
			  AND child.status IN ('waiting', 'running')
		  )
		ORDER BY sv.compute_priority DESC, sv.created_on ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ready services: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ready services: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IterateService advances one service workflow a single step. The service row
// is taken with a skip-locked row lock, so two sweeps racing on the same
// service result in one iteration, not two; the loser simply reports not run.
//
// A hook failure is not a transaction failure: the open transaction rolls
// back and a fresh one commits the record to error and removes the service
// row, so a broken workflow cannot be re-swept forever. Returns whether the
// iteration ran and whether the workflow finished.
func (s *Store) IterateService(ctx context.Context, recordID int64) (ran, finished bool, err error) {
	handlerErr := s.withTx(ctx, func(tx *sql.Tx) error {
		var tag string
		var priority int
		var state []byte
		err := tx.QueryRowContext(ctx,
			`SELECT compute_tag, compute_priority, service_state FROM services
			 WHERE record_id = $1 FOR UPDATE SKIP LOCKED`, recordID,
		).Scan(&tag, &priority, &state)
		if errors.Is(err, sql.ErrNoRows) {
			// Already being iterated elsewhere, or already finished.
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock service %d: %w", recordID, err)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1 FOR UPDATE`, recordID)
		rec, err := scanRecord(row)
		if err != nil {
			return fmt.Errorf("load service record %d: %w", recordID, err)
		}
		if rec.Status != record.StatusWaiting && rec.Status != record.StatusRunning {
			return nil
		}

		handler, err := s.serviceHandler(rec.RecordType)
		if err != nil {
			return errs.Wrap(errs.ErrServiceIteration, "service", "lookup", rec.RecordType, err)
		}

		if state == nil {
			initial, err := handler.Initialize(ctx, rec)
			if err != nil {
				return errs.Wrap(errs.ErrServiceIteration, "service", "initialize", rec.RecordType, err)
			}
			state = initial
			if _, err := tx.ExecContext(ctx,
				`UPDATE records SET status = 'running', modified_on = now() WHERE id = $1 AND status = 'waiting'`,
				recordID); err != nil {
				return fmt.Errorf("start service %d: %w", recordID, err)
			}
		}

		completed, err := loadDependencies(ctx, tx, recordID)
		if err != nil {
			return err
		}

		result, err := handler.Iterate(ctx, &Tx{tx: tx, store: s}, rec, state, completed)
		if err != nil {
			return errs.Wrap(errs.ErrServiceIteration, "service", "iterate", rec.RecordType, err)
		}

		if result.Finished {
			if _, err := tx.ExecContext(ctx,
				`UPDATE records SET status = 'complete', properties = $1, modified_on = now() WHERE id = $2`,
				nullableJSON(result.Properties), recordID); err != nil {
				return fmt.Errorf("complete service %d: %w", recordID, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM services WHERE record_id = $1`, recordID); err != nil {
				return fmt.Errorf("drop finished service %d: %w", recordID, err)
			}
			ran, finished = true, true
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE services SET service_state = $1 WHERE record_id = $2`,
			nullableJSON(result.State), recordID); err != nil {
			return fmt.Errorf("persist service state %d: %w", recordID, err)
		}
		if err := replaceDependencies(ctx, tx, recordID, result.NewDependencies); err != nil {
			return err
		}
		ran = true
		return nil
	})

	if handlerErr == nil {
		return ran, finished, nil
	}
	if !errors.Is(handlerErr, errs.ErrServiceIteration) {
		return false, false, handlerErr
	}

	// The iteration transaction rolled back. Record the failure so the sweep
	// stops picking this service up.
	failErr := s.withTx(ctx, func(tx *sql.Tx) error {
		outputs, err := json.Marshal(map[string]string{"error": handlerErr.Error()})
		if err != nil {
			return fmt.Errorf("encode service error: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO compute_history (record_id, success, outputs) VALUES ($1, FALSE, $2)`,
			recordID, outputs); err != nil {
			return fmt.Errorf("append service failure history: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET status = 'error', modified_on = now()
			 WHERE id = $1 AND status IN ('waiting', 'running')`, recordID); err != nil {
			return fmt.Errorf("fail service record %d: %w", recordID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM services WHERE record_id = $1`, recordID); err != nil {
			return fmt.Errorf("drop failed service %d: %w", recordID, err)
		}
		return nil
	})
	if failErr != nil {
		return false, false, errors.Join(handlerErr, failErr)
	}
	return false, false, handlerErr
}

func (s *Store) serviceHandler(recordType string) (recordtypes.ServiceHandler, error) {
	handler, err := s.registry.Service(recordType)
	if err != nil {
		return nil, err
	}
	return handler, nil
}

func loadDependencies(ctx context.Context, tx *sql.Tx, serviceID int64) ([]record.CompletedDependency, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT dep.child_record_id, child.status, dep.position,
		       COALESCE(dep.extras, 'null'::jsonb), COALESCE(child.properties, 'null'::jsonb)
		FROM service_dependencies dep
		JOIN records child ON child.id = dep.child_record_id
		WHERE dep.service_record_id = $1
		ORDER BY dep.position ASC`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load dependencies for service %d: %w", serviceID, err)
	}
	defer rows.Close()

	var deps []record.CompletedDependency
	for rows.Next() {
		var dep record.CompletedDependency
		var status string
		if err := rows.Scan(&dep.RecordID, &status, &dep.Position, &dep.Extras, &dep.Properties); err != nil {
			return nil, fmt.Errorf("load dependencies for service %d: %w", serviceID, err)
		}
		dep.Status = record.Status(status)
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

func replaceDependencies(ctx context.Context, tx *sql.Tx, serviceID int64, deps []record.NewDependency) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM service_dependencies WHERE service_record_id = $1`, serviceID); err != nil {
		return fmt.Errorf("clear dependencies for service %d: %w", serviceID, err)
	}
	for _, dep := range deps {
		var extras []byte
		if dep.Extras != nil {
			encoded, err := json.Marshal(dep.Extras)
			if err != nil {
				return fmt.Errorf("encode dependency extras: %w", err)
			}
			extras = encoded
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO service_dependencies (service_record_id, child_record_id, position, extras)
			 VALUES ($1, $2, $3, $4)`,
			serviceID, dep.RecordID, dep.Position, nullableJSON(extras)); err != nil {
			return fmt.Errorf("add dependency for service %d: %w", serviceID, err)
		}
	}
	return nil
}
