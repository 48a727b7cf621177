package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	guuid "github.com/google/uuid"

	"crucible/internal/errs"
)

// Manager statuses. A manager is either active and allowed to claim, or
// inactive. Manager rows are never deleted; a fresh activation with the same
// identity triple reactivates an inactive manager.
const (
	ManagerActive   = "active"
	ManagerInactive = "inactive"
)

// ManagerRegistration identifies a compute manager announcing itself.
type ManagerRegistration struct {
	Cluster     string            `json:"cluster"`
	Hostname    string            `json:"hostname"`
	UUID        string            `json:"uuid"`
	Username    string            `json:"username,omitempty"`
	Version     string            `json:"version,omitempty"`
	Programs    map[string]string `json:"programs"`
	ComputeTags []string          `json:"compute_tags,omitempty"`
}

// Name derives the unique manager name from the identity triple.
func (r ManagerRegistration) Name() string {
	return strings.Join([]string{r.Cluster, r.Hostname, r.UUID}, "-")
}

func (r ManagerRegistration) validate() error {
	if strings.TrimSpace(r.Cluster) == "" || strings.TrimSpace(r.Hostname) == "" {
		return errs.Validation("manager registration requires cluster and hostname")
	}
	if _, err := guuid.Parse(r.UUID); err != nil {
		return errs.Validation("manager uuid is not a valid UUID: %v", err)
	}
	if len(r.Programs) == 0 {
		return errs.Validation("manager registration requires at least one program")
	}
	return nil
}

// ManagerStats is the resource usage snapshot a heartbeat carries.
type ManagerStats struct {
	ActiveTasks int     `json:"active_tasks"`
	ActiveCores int     `json:"active_cores"`
	ActiveMemGB float64 `json:"active_mem_gb"`
	TotalDone   int64   `json:"total_done"`
}

// Manager is a row from the manager registry.
type Manager struct {
	ID          int64
	Cluster     string
	Hostname    string
	UUID        string
	Name        string
	Status      string
	Username    string
	Version     string
	Programs    map[string]string
	ComputeTags []string
	Stats       json.RawMessage
	CreatedOn   time.Time
	ModifiedOn  time.Time
}

// ActivateManager registers a manager, or reactivates the row when the same
// identity triple registers again. Returns the derived manager name.
func (s *Store) ActivateManager(ctx context.Context, reg ManagerRegistration) (string, error) {
	if err := reg.validate(); err != nil {
		return "", err
	}
	programs, err := json.Marshal(reg.Programs)
	if err != nil {
		return "", fmt.Errorf("encode manager programs: %w", err)
	}
	tags := reg.ComputeTags
	if tags == nil {
		tags = []string{}
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode manager tags: %w", err)
	}

	name := reg.Name()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO managers (cluster, hostname, uuid, name, status, username, version, programs, compute_tags)
		VALUES ($1, $2, $3, $4, 'active', $5, $6, $7, $8)
		ON CONFLICT (cluster, hostname, uuid) DO UPDATE SET
			status = 'active', username = EXCLUDED.username, version = EXCLUDED.version,
			programs = EXCLUDED.programs, compute_tags = EXCLUDED.compute_tags, modified_on = now()`,
		reg.Cluster, reg.Hostname, reg.UUID, name, reg.Username, reg.Version, programs, encodedTags)
	if err != nil {
		return "", fmt.Errorf("activate manager %q: %w", name, err)
	}
	return name, nil
}

// ManagerHeartbeat records liveness and the manager's current stats. Unknown
// or inactive managers are rejected so a deactivated worker learns it must
// re-register.
func (s *Store) ManagerHeartbeat(ctx context.Context, name string, stats ManagerStats) error {
	encoded, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode manager stats: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE managers SET stats = $1, modified_on = now() WHERE name = $2 AND status = 'active'`,
		encoded, name)
	if err != nil {
		return fmt.Errorf("heartbeat manager %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat manager %q: %w", name, err)
	}
	if affected == 0 {
		return errs.MissingData("manager %q is not registered or not active", name)
	}
	return nil
}

// DeactivateManager retires a manager and requeues every task it still
// claims. Requeued records move back to waiting; the next claim starts a
// fresh history attempt.
func (s *Store) DeactivateManager(ctx context.Context, name string) (requeued int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE managers SET status = 'inactive', modified_on = now()
			 WHERE name = $1 AND status = 'active'`, name)
		if err != nil {
			return fmt.Errorf("deactivate manager %q: %w", name, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("deactivate manager %q: %w", name, err)
		}
		if affected == 0 {
			return errs.MissingData("manager %q is not registered or not active", name)
		}
		requeued, err = requeueClaims(ctx, tx, name)
		return err
	})
	if err != nil {
		return 0, err
	}
	return requeued, nil
}

// DeactivateStaleManagers retires every active manager whose last heartbeat
// is older than the cutoff and requeues their claimed tasks. Returns the
// retired manager names and the total requeued task count.
func (s *Store) DeactivateStaleManagers(ctx context.Context, cutoff time.Time) ([]string, int, error) {
	var (
		names    []string
		requeued int
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE managers SET status = 'inactive', modified_on = now()
			WHERE status = 'active' AND modified_on < $1
			RETURNING name`, cutoff)
		if err != nil {
			return fmt.Errorf("deactivate stale managers: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("deactivate stale managers: %w", err)
			}
			names = append(names, name)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("deactivate stale managers: %w", err)
		}

		for _, name := range names {
			count, err := requeueClaims(ctx, tx, name)
			if err != nil {
				return err
			}
			requeued += count
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return names, requeued, nil
}

// requeueClaims releases every task a manager holds and moves the backing
// records to waiting, inside the caller's transaction.
func requeueClaims(ctx context.Context, tx *sql.Tx, managerName string) (int, error) {
	rows, err := tx.QueryContext(ctx,
		`UPDATE tasks SET claimed_by = NULL WHERE claimed_by = $1 RETURNING record_id`, managerName)
	if err != nil {
		return 0, fmt.Errorf("release claims of %q: %w", managerName, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("release claims of %q: %w", managerName, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("release claims of %q: %w", managerName, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET status = 'waiting', modified_on = now()
		 WHERE id IN (`+placeholders(1, len(ids))+`) AND status = 'running'`,
		int64Args(ids)...); err != nil {
		return 0, fmt.Errorf("requeue records of %q: %w", managerName, err)
	}
	return len(ids), nil
}

// CountActiveManagers returns how many managers are currently active.
func (s *Store) CountActiveManagers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM managers WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active managers: %w", err)
	}
	return count, nil
}

// ListManagers returns managers, optionally filtered to active only, newest
// heartbeat first.
func (s *Store) ListManagers(ctx context.Context, activeOnly bool) ([]Manager, error) {
	query := `SELECT id, cluster, hostname, uuid, name, status, username, version,
	                 programs, compute_tags, COALESCE(stats, 'null'::jsonb), created_on, modified_on
	          FROM managers`
	if activeOnly {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY modified_on DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list managers: %w", err)
	}
	defer rows.Close()

	var managers []Manager
	for rows.Next() {
		var m Manager
		var programs, tags []byte
		if err := rows.Scan(&m.ID, &m.Cluster, &m.Hostname, &m.UUID, &m.Name, &m.Status,
			&m.Username, &m.Version, &programs, &tags, &m.Stats, &m.CreatedOn, &m.ModifiedOn); err != nil {
			return nil, fmt.Errorf("list managers: %w", err)
		}
		if err := json.Unmarshal(programs, &m.Programs); err != nil {
			return nil, fmt.Errorf("decode programs for manager %q: %w", m.Name, err)
		}
		if err := json.Unmarshal(tags, &m.ComputeTags); err != nil {
			return nil, fmt.Errorf("decode tags for manager %q: %w", m.Name, err)
		}
		managers = append(managers, m)
	}
	return managers, rows.Err()
}
