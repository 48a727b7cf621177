package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"crucible/internal/errs"
	"crucible/internal/hashing"
	"crucible/internal/record"
)

// Tx is the transactional surface handed to code that must create entities
// atomically with other work, such as a service Iterate hook spawning child
// records. It implements recordtypes.RecordCreator.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// InsertKeywordSets creates or finds keyword sets by content hash. Input
// order is preserved in the returned metadata; duplicates within one batch
// resolve to the same id.
func (s *Store) InsertKeywordSets(ctx context.Context, payloads []map[string]any) (record.InsertMeta, error) {
	return s.insertHashed(ctx, payloads, lockKeywordSets,
		`INSERT INTO keyword_sets (payload, content_hash) VALUES ($1, $2) ON CONFLICT (content_hash) DO NOTHING RETURNING id`,
		`SELECT id FROM keyword_sets WHERE content_hash = $1`)
}

// InsertMolecules creates or finds molecules by content hash.
func (s *Store) InsertMolecules(ctx context.Context, payloads []map[string]any) (record.InsertMeta, error) {
	return s.insertHashed(ctx, payloads, lockMolecules,
		`INSERT INTO molecules (payload, content_hash) VALUES ($1, $2) ON CONFLICT (content_hash) DO NOTHING RETURNING id`,
		`SELECT id FROM molecules WHERE content_hash = $1`)
}

// Specification is a named calculation specification candidate.
type Specification struct {
	SpecType string
	Payload  map[string]any
}

// InsertSpecifications creates or finds specifications, hashed per spec type.
func (s *Store) InsertSpecifications(ctx context.Context, specs []Specification) (record.InsertMeta, error) {
	meta := newInsertMeta(len(specs))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := acquireAdvisory(ctx, tx, lockSpecifications); err != nil {
			return err
		}
		for i, spec := range specs {
			canonical, hash, err := canonicalAndHash(spec.Payload)
			if err != nil {
				meta.fail(i, err.Error())
				continue
			}
			var id int64
			err = tx.QueryRowContext(ctx,
				`INSERT INTO specifications (spec_type, payload, content_hash) VALUES ($1, $2, $3)
				 ON CONFLICT (spec_type, content_hash) DO NOTHING RETURNING id`,
				spec.SpecType, canonical, hash,
			).Scan(&id)
			switch {
			case err == nil:
				meta.inserted(i, id)
			case errors.Is(err, sql.ErrNoRows):
				if err := tx.QueryRowContext(ctx,
					`SELECT id FROM specifications WHERE spec_type = $1 AND content_hash = $2`,
					spec.SpecType, hash,
				).Scan(&id); err != nil {
					return fmt.Errorf("find specification by hash: %w", err)
				}
				meta.existing(i, id)
			default:
				return fmt.Errorf("insert specification: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return record.InsertMeta{}, err
	}
	return meta.done(), nil
}

// InsertRecords creates or finds records through the dedup engine, in a
// single transaction. See Tx.InsertRecords.
func (s *Store) InsertRecords(ctx context.Context, candidates []record.NewRecord, findExisting bool) (record.InsertMeta, error) {
	var meta record.InsertMeta
	err := s.withTx(ctx, func(sqlTx *sql.Tx) error {
		var err error
		meta, err = (&Tx{tx: sqlTx, store: s}).InsertRecords(ctx, candidates, findExisting)
		return err
	})
	if err != nil {
		return record.InsertMeta{}, err
	}
	return meta, nil
}

// InsertRecords creates records plus their task or service linkage
// atomically. The whole batch runs under a named advisory lock per record
// type so two submitters racing to create the identical composite object
// cannot both observe "not found" and both insert; a bare unique constraint
// cannot close that race for multi-row composites. When findExisting is
// false an independent duplicate record is always created.
//
// A candidate that fails validation or references missing data is reported
// at its index; it never aborts the rest of the batch.
func (t *Tx) InsertRecords(ctx context.Context, candidates []record.NewRecord, findExisting bool) (record.InsertMeta, error) {
	meta := newInsertMeta(len(candidates))

	type prepared struct {
		canonical []byte
		hash      string
		handler   bool
		isService bool
	}
	ready := make([]prepared, len(candidates))
	lockKeys := make([]int64, 0, 2)

	for i, candidate := range candidates {
		handler, err := t.store.registry.Lookup(candidate.RecordType)
		if err != nil {
			meta.fail(i, err.Error())
			continue
		}
		isService := handler.IsService()
		if !isService && candidate.Program == "" {
			meta.fail(i, errs.Validation("record type %q requires a program", candidate.RecordType).Error())
			continue
		}
		canonical, hash, err := canonicalAndHash(candidate.Specification)
		if err != nil {
			meta.fail(i, err.Error())
			continue
		}
		if err := t.checkReferences(ctx, candidate.Specification); err != nil {
			meta.fail(i, err.Error())
			continue
		}
		ready[i] = prepared{canonical: canonical, hash: hash, handler: true, isService: isService}
		lockKeys = append(lockKeys, advisoryLockForRecordType(candidate.RecordType))
	}

	if len(lockKeys) > 0 {
		if err := acquireAdvisory(ctx, t.tx, lockKeys...); err != nil {
			return record.InsertMeta{}, err
		}
	}

	for i, candidate := range candidates {
		if !ready[i].handler {
			continue
		}
		if findExisting {
			var id int64
			err := t.tx.QueryRowContext(ctx,
				`SELECT id FROM records WHERE record_type = $1 AND content_hash = $2 AND status <> 'deleted' ORDER BY id LIMIT 1`,
				candidate.RecordType, ready[i].hash,
			).Scan(&id)
			switch {
			case err == nil:
				meta.existing(i, id)
				continue
			case errors.Is(err, sql.ErrNoRows):
				// Fall through to insert; the advisory lock guarantees no
				// concurrent submitter slipped in between.
			default:
				return record.InsertMeta{}, fmt.Errorf("find record by hash: %w", err)
			}
		}

		id, err := t.insertRecordRow(ctx, candidate, ready[i].canonical, ready[i].hash, ready[i].isService)
		if err != nil {
			return record.InsertMeta{}, err
		}
		meta.inserted(i, id)
	}

	return meta.done(), nil
}

func (t *Tx) insertRecordRow(ctx context.Context, candidate record.NewRecord, canonical []byte, hash string, isService bool) (int64, error) {
	tag := candidate.ComputeTag
	if tag == "" {
		tag = "default"
	}

	var id int64
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO records (record_type, status, is_service, owner_user, owner_group, content_hash,
		                      specification, program, compute_tag, compute_priority)
		 VALUES ($1, 'waiting', $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		candidate.RecordType, isService, candidate.OwnerUser, candidate.OwnerGroup, hash,
		canonical, candidate.Program, tag, candidate.Priority,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}

	if isService {
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO services (record_id, compute_tag, compute_priority) VALUES ($1, $2, $3)`,
			id, tag, candidate.Priority)
	} else {
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO tasks (record_id, program, compute_tag, compute_priority, spec) VALUES ($1, $2, $3, $4, $5)`,
			id, candidate.Program, tag, candidate.Priority, canonical)
	}
	if err != nil {
		return 0, fmt.Errorf("insert record linkage: %w", err)
	}
	return id, nil
}

// checkReferences verifies explicit foreign ids a submission may carry.
// Referencing a missing id fails that candidate only.
func (t *Tx) checkReferences(ctx context.Context, spec map[string]any) error {
	refs := []struct {
		key   string
		table string
	}{
		{"molecule_id", "molecules"},
		{"keywords_id", "keyword_sets"},
		{"specification_id", "specifications"},
	}
	for _, ref := range refs {
		raw, ok := spec[ref.key]
		if !ok {
			continue
		}
		id, err := coerceID(raw)
		if err != nil {
			return errs.Validation("%s must be an integer id", ref.key)
		}
		var exists bool
		query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, ref.table)
		if err := t.tx.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
			return fmt.Errorf("check %s: %w", ref.key, err)
		}
		if !exists {
			return errs.MissingData("%s %d does not exist", ref.key, id)
		}
	}
	return nil
}

func coerceID(raw any) (int64, error) {
	switch value := raw.(type) {
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	case float64:
		if value != float64(int64(value)) {
			return 0, fmt.Errorf("not an integer")
		}
		return int64(value), nil
	case json.Number:
		return value.Int64()
	default:
		return 0, fmt.Errorf("not an integer")
	}
}

func (s *Store) insertHashed(ctx context.Context, payloads []map[string]any, lockKey int64, insertSQL, findSQL string) (record.InsertMeta, error) {
	meta := newInsertMeta(len(payloads))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := acquireAdvisory(ctx, tx, lockKey); err != nil {
			return err
		}
		for i, payload := range payloads {
			canonical, hash, err := canonicalAndHash(payload)
			if err != nil {
				meta.fail(i, err.Error())
				continue
			}
			var id int64
			err = tx.QueryRowContext(ctx, insertSQL, canonical, hash).Scan(&id)
			switch {
			case err == nil:
				meta.inserted(i, id)
			case errors.Is(err, sql.ErrNoRows):
				if err := tx.QueryRowContext(ctx, findSQL, hash).Scan(&id); err != nil {
					return fmt.Errorf("find by hash: %w", err)
				}
				meta.existing(i, id)
			default:
				return fmt.Errorf("insert hashed entity: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return record.InsertMeta{}, err
	}
	return meta.done(), nil
}

func canonicalAndHash(payload map[string]any) ([]byte, string, error) {
	if payload == nil {
		return nil, "", errs.Validation("payload is required")
	}
	canonical, err := hashing.Canonical(payload, hashing.Options{})
	if err != nil {
		return nil, "", errs.Validation("payload is not hashable: %v", err)
	}
	hash, err := hashing.ContentHash(payload, hashing.Options{})
	if err != nil {
		return nil, "", errs.Validation("payload is not hashable: %v", err)
	}
	return canonical, hash, nil
}

// insertMetaBuilder accumulates batch outcomes in input order.
type insertMetaBuilder struct {
	meta record.InsertMeta
}

func newInsertMeta(n int) *insertMetaBuilder {
	return &insertMetaBuilder{meta: record.InsertMeta{
		IDs:    make([]int64, n),
		Errors: make(map[int]string),
	}}
}

func (b *insertMetaBuilder) inserted(i int, id int64) {
	b.meta.InsertedIdx = append(b.meta.InsertedIdx, i)
	b.meta.IDs[i] = id
}

func (b *insertMetaBuilder) existing(i int, id int64) {
	b.meta.ExistingIdx = append(b.meta.ExistingIdx, i)
	b.meta.IDs[i] = id
}

func (b *insertMetaBuilder) fail(i int, reason string) {
	b.meta.ErrorIdx = append(b.meta.ErrorIdx, i)
	b.meta.Errors[i] = reason
}

func (b *insertMetaBuilder) done() record.InsertMeta {
	return b.meta
}
