package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"crucible/internal/errs"
	"crucible/internal/record"
)

// TaskPayload is what a claiming manager receives for one task.
type TaskPayload struct {
	RecordID int64           `json:"record_id"`
	Program  string          `json:"program"`
	Tag      string          `json:"compute_tag"`
	Priority int             `json:"compute_priority"`
	Spec     json.RawMessage `json:"spec"`
}

// TaskResult is one finished task reported back by a manager.
type TaskResult struct {
	RecordID   int64           `json:"record_id"`
	Success    bool            `json:"success"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Error      string          `json:"error,omitempty"`
	Provenance json.RawMessage `json:"provenance,omitempty"`
	Outputs    json.RawMessage `json:"outputs,omitempty"`
}

// FinishReport summarizes a batch of returned results.
type FinishReport struct {
	Accepted int
	Rejected int
	// Reasons maps a rejected record id to why its result was not applied.
	Reasons map[int64]string
}

// ClaimTasks atomically assigns up to limit waiting tasks to a manager,
// matching the manager's programs and, when given, its tag list. Highest
// priority first, then oldest. Locked rows are skipped rather than waited on,
// so concurrent claimers never hand out the same task twice. The claimed
// records move to running in the same transaction.
func (s *Store) ClaimTasks(ctx context.Context, managerName string, programs []string, tags []string, limit int) ([]TaskPayload, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(programs) == 0 {
		return nil, errs.Validation("claim requires at least one program")
	}

	args := []any{managerName}
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	where := "t.claimed_by IS NULL"
	{
		start := len(args) + 1
		args = append(args, stringArgs(programs)...)
		where += fmt.Sprintf(" AND t.program IN (%s)", placeholders(start, len(programs)))
	}
	if len(tags) > 0 {
		start := len(args) + 1
		args = append(args, stringArgs(tags)...)
		where += fmt.Sprintf(" AND t.compute_tag IN (%s)", placeholders(start, len(tags)))
	}

	query := fmt.Sprintf(`
		WITH picked AS (
			SELECT t.record_id FROM tasks t
			WHERE %s
			ORDER BY t.compute_priority DESC, t.created_on ASC
			LIMIT %s
			FOR UPDATE OF t SKIP LOCKED
		)
		UPDATE tasks SET claimed_by = $1
		FROM picked WHERE tasks.record_id = picked.record_id
		RETURNING tasks.record_id, tasks.program, tasks.compute_tag, tasks.compute_priority, tasks.spec`,
		where, arg(limit))

	var payloads []TaskPayload
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Share-lock the manager row so claims serialize with deactivation:
		// a claim either commits before the requeue runs or observes the
		// manager already inactive.
		var active bool
		err := tx.QueryRowContext(ctx,
			`SELECT status = 'active' FROM managers WHERE name = $1 FOR SHARE`, managerName).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.MissingData("manager %q is not registered", managerName)
		}
		if err != nil {
			return fmt.Errorf("check manager %q: %w", managerName, err)
		}
		if !active {
			return errs.MissingData("manager %q is not active", managerName)
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("claim tasks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var payload TaskPayload
			if err := rows.Scan(&payload.RecordID, &payload.Program, &payload.Tag, &payload.Priority, &payload.Spec); err != nil {
				return fmt.Errorf("claim tasks: %w", err)
			}
			payloads = append(payloads, payload)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("claim tasks: %w", err)
		}
		if len(payloads) == 0 {
			return nil
		}

		ids := make([]int64, len(payloads))
		for i, payload := range payloads {
			ids[i] = payload.RecordID
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET status = 'running', modified_on = now()
			 WHERE id IN (`+placeholders(1, len(ids))+`) AND status = 'waiting'`,
			int64Args(ids)...); err != nil {
			return fmt.Errorf("mark claimed records running: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payloads, nil
}

// UpdateFinished applies returned results. Each result is verified against
// the live claim: a task that no longer exists, or is claimed by a different
// manager, is rejected without touching the record. Results from a stale
// claim therefore never overwrite work re-queued by orphan recovery.
func (s *Store) UpdateFinished(ctx context.Context, managerName string, results []TaskResult) (FinishReport, error) {
	report := FinishReport{Reasons: make(map[int64]string)}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, result := range results {
			reason, err := applyResult(ctx, tx, managerName, result)
			if err != nil {
				return err
			}
			if reason != "" {
				report.Rejected++
				report.Reasons[result.RecordID] = reason
				continue
			}
			report.Accepted++
		}
		return nil
	})
	if err != nil {
		return FinishReport{}, err
	}
	return report, nil
}

func applyResult(ctx context.Context, tx *sql.Tx, managerName string, result TaskResult) (string, error) {
	var claimedBy sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT claimed_by FROM tasks WHERE record_id = $1 FOR UPDATE`, result.RecordID,
	).Scan(&claimedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return "task no longer exists", nil
	}
	if err != nil {
		return "", fmt.Errorf("verify claim on record %d: %w", result.RecordID, err)
	}
	if !claimedBy.Valid || claimedBy.String != managerName {
		return fmt.Sprintf("task is not claimed by %s", managerName), nil
	}

	outputs := result.Outputs
	if !result.Success && result.Error != "" {
		wrapped := errs.Wrap(errs.ErrTaskExecution, "task", "", result.Error, nil)
		encoded, err := json.Marshal(map[string]string{"error": wrapped.Error()})
		if err != nil {
			return "", fmt.Errorf("encode task error: %w", err)
		}
		outputs = encoded
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO compute_history (record_id, manager_name, success, provenance, outputs)
		 VALUES ($1, $2, $3, $4, $5)`,
		result.RecordID, managerName, result.Success,
		nullableJSON(result.Provenance), nullableJSON(outputs)); err != nil {
		return "", fmt.Errorf("append history for record %d: %w", result.RecordID, err)
	}

	status := record.StatusComplete
	if !result.Success {
		status = record.StatusError
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET status = $1, properties = $2, modified_on = now() WHERE id = $3`,
		string(status), nullableJSON(result.Properties), result.RecordID); err != nil {
		return "", fmt.Errorf("finish record %d: %w", result.RecordID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE record_id = $1`, result.RecordID); err != nil {
		return "", fmt.Errorf("drop task for record %d: %w", result.RecordID, err)
	}
	return "", nil
}

// QueueDepth reports how many tasks are waiting and how many are claimed.
func (s *Store) QueueDepth(ctx context.Context) (waiting, claimed int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE claimed_by IS NULL),
		        COUNT(*) FILTER (WHERE claimed_by IS NOT NULL) FROM tasks`,
	).Scan(&waiting, &claimed)
	if err != nil {
		return 0, 0, fmt.Errorf("queue depth: %w", err)
	}
	return waiting, claimed, nil
}
