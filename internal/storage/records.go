package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"crucible/internal/errs"
	"crucible/internal/record"
)

const recordColumns = `id, record_type, status, is_service, owner_user, owner_group,
	content_hash, specification, COALESCE(properties, 'null'::jsonb), created_on, modified_on`

// RecordFilter narrows ListRecords. Zero-value fields are ignored.
type RecordFilter struct {
	RecordTypes []string
	Statuses    []record.Status
	OwnerUser   string
	Limit       int
	// Cursor is an exclusive lower bound on record id, for paging.
	Cursor int64
}

// GetRecord loads one record by id. Soft-deleted records are still returned;
// callers that must not see them filter on Status.
func (s *Store) GetRecord(ctx context.Context, id int64) (*record.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.MissingData("record %d does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// GetRecords loads a batch of records by id. Missing ids are reported, not
// silently dropped.
func (s *Store) GetRecords(ctx context.Context, ids []int64) ([]*record.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + recordColumns + ` FROM records WHERE id IN (` + placeholders(1, len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*record.Record, len(ids))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("get records: %w", err)
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}

	out := make([]*record.Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			return nil, errs.MissingData("record %d does not exist", id)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListRecords returns records matching the filter, newest first.
func (s *Store) ListRecords(ctx context.Context, filter RecordFilter) ([]*record.Record, error) {
	var (
		clauses []string
		args    []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.RecordTypes) > 0 {
		start := len(args) + 1
		args = append(args, stringArgs(filter.RecordTypes)...)
		clauses = append(clauses, fmt.Sprintf("record_type IN (%s)", placeholders(start, len(filter.RecordTypes))))
	}
	if len(filter.Statuses) > 0 {
		start := len(args) + 1
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", placeholders(start, len(filter.Statuses))))
	}
	if filter.OwnerUser != "" {
		clauses = append(clauses, "owner_user = "+arg(filter.OwnerUser))
	}
	if filter.Cursor > 0 {
		clauses = append(clauses, "id > "+arg(filter.Cursor))
	}

	query := `SELECT ` + recordColumns + ` FROM records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query += " LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// RecordHistory returns a record's compute history, oldest attempt first.
func (s *Store) RecordHistory(ctx context.Context, recordID int64) ([]record.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record_id, manager_name, success,
		        COALESCE(provenance, 'null'::jsonb), COALESCE(outputs, 'null'::jsonb), created_on
		 FROM compute_history WHERE record_id = $1 ORDER BY id ASC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("record history: %w", err)
	}
	defer rows.Close()

	var out []record.HistoryEntry
	for rows.Next() {
		var entry record.HistoryEntry
		if err := rows.Scan(&entry.ID, &entry.RecordID, &entry.ManagerName, &entry.Success,
			&entry.Provenance, &entry.Outputs, &entry.CreatedOn); err != nil {
			return nil, fmt.Errorf("record history: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// StatusCounts returns how many records sit in each status.
func (s *Store) StatusCounts(ctx context.Context) (map[record.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[record.Status]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("status counts: %w", err)
		}
		counts[record.Status(status)] = count
	}
	return counts, rows.Err()
}

// CancelRecords moves waiting or running records to cancelled and removes
// their task or service rows. Each record is judged independently.
func (s *Store) CancelRecords(ctx context.Context, ids []int64) ([]record.TransitionOutcome, error) {
	return s.transition(ctx, ids, record.StatusCancelled)
}

// ResetRecords moves errored, cancelled, or invalid records back to waiting
// and recreates the task or service row so they run again.
func (s *Store) ResetRecords(ctx context.Context, ids []int64) ([]record.TransitionOutcome, error) {
	return s.transition(ctx, ids, record.StatusWaiting)
}

// InvalidateRecords marks terminal records whose results should not be
// trusted. The properties stay readable.
func (s *Store) InvalidateRecords(ctx context.Context, ids []int64) ([]record.TransitionOutcome, error) {
	return s.transition(ctx, ids, record.StatusInvalid)
}

// DeleteRecords soft-deletes records, remembering the prior status for
// undelete. Task and service rows are removed so nothing claims or sweeps a
// deleted record.
func (s *Store) DeleteRecords(ctx context.Context, ids []int64) ([]record.TransitionOutcome, error) {
	return s.transition(ctx, ids, record.StatusDeleted)
}

// UndeleteRecords restores soft-deleted records to their remembered prior
// status. A record deleted while running comes back as waiting; the claim it
// held is long gone.
func (s *Store) UndeleteRecords(ctx context.Context, ids []int64) ([]record.TransitionOutcome, error) {
	outcomes := make([]record.TransitionOutcome, len(ids))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, id := range ids {
			outcomes[i] = record.TransitionOutcome{RecordID: id}

			var status, recordType, program, tag string
			var prior sql.NullString
			var priority int
			err := tx.QueryRowContext(ctx,
				`SELECT status, prior_status, record_type, program, compute_tag, compute_priority
				 FROM records WHERE id = $1 FOR UPDATE`, id,
			).Scan(&status, &prior, &recordType, &program, &tag, &priority)
			if errors.Is(err, sql.ErrNoRows) {
				outcomes[i].Reason = "record does not exist"
				continue
			}
			if err != nil {
				return fmt.Errorf("undelete record %d: %w", id, err)
			}
			if record.Status(status) != record.StatusDeleted {
				outcomes[i].Reason = fmt.Sprintf("record is %s, not deleted", status)
				continue
			}

			restored := record.StatusWaiting
			if prior.Valid {
				if parsed, ok := record.ParseStatus(prior.String); ok {
					restored = parsed
				}
			}
			// A claim held before deletion cannot be resumed.
			if restored == record.StatusRunning || restored == record.StatusDeleted {
				restored = record.StatusWaiting
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE records SET status = $1, prior_status = NULL, modified_on = now() WHERE id = $2`,
				string(restored), id); err != nil {
				return fmt.Errorf("undelete record %d: %w", id, err)
			}
			if restored == record.StatusWaiting {
				if err := recreateBacking(ctx, tx, id); err != nil {
					return err
				}
			}
			outcomes[i].Updated = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// transition applies one target status to a batch of records, row by row
// under FOR UPDATE. Illegal transitions are reported per record and the rest
// of the batch proceeds.
func (s *Store) transition(ctx context.Context, ids []int64, to record.Status) ([]record.TransitionOutcome, error) {
	outcomes := make([]record.TransitionOutcome, len(ids))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, id := range ids {
			outcomes[i] = record.TransitionOutcome{RecordID: id}

			var status string
			err := tx.QueryRowContext(ctx,
				`SELECT status FROM records WHERE id = $1 FOR UPDATE`, id).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				outcomes[i].Reason = "record does not exist"
				continue
			}
			if err != nil {
				return fmt.Errorf("transition record %d: %w", id, err)
			}

			from := record.Status(status)
			if !record.CanTransition(from, to) {
				outcomes[i].Reason = fmt.Sprintf("cannot move from %s to %s", from, to)
				continue
			}

			if to == record.StatusDeleted {
				_, err = tx.ExecContext(ctx,
					`UPDATE records SET status = 'deleted', prior_status = $1, modified_on = now() WHERE id = $2`,
					string(from), id)
			} else {
				_, err = tx.ExecContext(ctx,
					`UPDATE records SET status = $1, modified_on = now() WHERE id = $2`,
					string(to), id)
			}
			if err != nil {
				return fmt.Errorf("transition record %d: %w", id, err)
			}

			if err := adjustBacking(ctx, tx, id, from, to); err != nil {
				return err
			}
			outcomes[i].Updated = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// adjustBacking keeps task/service rows consistent with a status change:
// leaving the active statuses removes the backing row, returning to waiting
// recreates it.
func adjustBacking(ctx context.Context, tx *sql.Tx, id int64, from, to record.Status) error {
	switch {
	case record.IsActive(from) && !record.IsActive(to):
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE record_id = $1`, id); err != nil {
			return fmt.Errorf("drop task for record %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM services WHERE record_id = $1`, id); err != nil {
			return fmt.Errorf("drop service for record %d: %w", id, err)
		}
	case !record.IsActive(from) && to == record.StatusWaiting:
		return recreateBacking(ctx, tx, id)
	}
	return nil
}

// recreateBacking rebuilds the task or service row for a record returning to
// waiting. Service state is not preserved across a reset; the workflow starts
// over from Initialize.
func recreateBacking(ctx context.Context, tx *sql.Tx, id int64) error {
	var isService bool
	var program, tag string
	var priority int
	var spec json.RawMessage
	err := tx.QueryRowContext(ctx,
		`SELECT is_service, program, compute_tag, compute_priority, specification
		 FROM records WHERE id = $1`, id,
	).Scan(&isService, &program, &tag, &priority, &spec)
	if err != nil {
		return fmt.Errorf("load record %d for requeue: %w", id, err)
	}

	if isService {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO services (record_id, compute_tag, compute_priority)
			 VALUES ($1, $2, $3) ON CONFLICT (record_id) DO NOTHING`,
			id, tag, priority)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (record_id, program, compute_tag, compute_priority, spec)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (record_id) DO NOTHING`,
			id, program, tag, priority, []byte(spec))
	}
	if err != nil {
		return fmt.Errorf("requeue record %d: %w", id, err)
	}
	return nil
}

// HardDeleteRecords permanently removes records and, for service-backed
// types, their child records. Children are resolved through the record type
// handler before anything is removed.
func (s *Store) HardDeleteRecords(ctx context.Context, ids []int64) (int, error) {
	deleted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		targets := make(map[int64]struct{})
		for _, id := range ids {
			if err := s.collectHardDelete(ctx, tx, id, targets); err != nil {
				return err
			}
		}
		if len(targets) == 0 {
			return nil
		}
		all := make([]int64, 0, len(targets))
		for id := range targets {
			all = append(all, id)
		}
		result, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE id IN (`+placeholders(1, len(all))+`)`, int64Args(all)...)
		if err != nil {
			return fmt.Errorf("hard delete records: %w", err)
		}
		count, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("hard delete records: %w", err)
		}
		deleted = int(count)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *Store) collectHardDelete(ctx context.Context, tx *sql.Tx, id int64, targets map[int64]struct{}) error {
	if _, seen := targets[id]; seen {
		return nil
	}

	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load record %d for hard delete: %w", id, err)
	}
	targets[id] = struct{}{}

	handler, err := s.registry.Lookup(rec.RecordType)
	if err != nil {
		// Unknown type in the database; delete the row itself only.
		return nil
	}
	children, err := handler.Children(rec)
	if err != nil {
		return fmt.Errorf("resolve children of record %d: %w", id, err)
	}
	for _, child := range children {
		if err := s.collectHardDelete(ctx, tx, child, targets); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.Record, error) {
	var rec record.Record
	var status string
	err := row.Scan(&rec.ID, &rec.RecordType, &status, &rec.IsService, &rec.OwnerUser, &rec.OwnerGroup,
		&rec.ContentHash, &rec.Specification, &rec.Properties, &rec.CreatedOn, &rec.ModifiedOn)
	if err != nil {
		return nil, err
	}
	rec.Status = record.Status(status)
	return &rec, nil
}
