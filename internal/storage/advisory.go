package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Advisory lock keys. One fixed constant per entity-type insert path so that
// two submitters racing to create an identical composite object serialize on
// the same lock, while unrelated insert paths never contend. Never share a
// key across unrelated entity types.
const (
	lockSchemaInit int64 = 0x43520000

	lockKeywordSets    int64 = 0x43521001
	lockMolecules      int64 = 0x43521002
	lockSpecifications int64 = 0x43521003

	lockRecordSinglepoint int64 = 0x43522001
	lockRecordManybody    int64 = 0x43522002
	// lockRecordOther guards record types without a dedicated key. They
	// serialize with each other but never with the types above.
	lockRecordOther int64 = 0x43522fff
)

var recordTypeLocks = map[string]int64{
	"singlepoint": lockRecordSinglepoint,
	"manybody":    lockRecordManybody,
}

func advisoryLockForRecordType(recordType string) int64 {
	if key, ok := recordTypeLocks[recordType]; ok {
		return key
	}
	return lockRecordOther
}

// acquireAdvisory takes transaction-scoped advisory locks for the given keys.
// Keys are sorted and deduplicated so concurrent batches covering the same
// set of entity types cannot deadlock.
func acquireAdvisory(ctx context.Context, tx *sql.Tx, keys ...int64) error {
	seen := make(map[int64]struct{}, len(keys))
	ordered := make([]int64, 0, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ordered = append(ordered, key)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, key := range ordered {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
			return fmt.Errorf("advisory lock %d: %w", key, err)
		}
	}
	return nil
}
