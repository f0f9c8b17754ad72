package enforcer

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Journal snapshots enforcer state keys at their first write within one
// redemption call so the engine can restore them when the call aborts
// between hook phases. Without it, an abort leaves locks held, aggregate
// trackers half-filled, and allowances charged for executions that never
// ran.
//
// Keys come in two classes:
//
//   - Tracking keys (locks, aggregate trackers, payment snapshots) pair a
//     write in an early phase with cleanup in a later one. They revert on
//     every abort, since an abort means the pairing never completed.
//   - Spend keys (allowance accumulators, call counters) charge for an
//     execution. They revert only while the charged execution has not run;
//     CommitSpends, called by the engine after each successful execution,
//     makes the charges recorded so far permanent. Ledger balances are
//     never journaled.
//
// A nil Journal records nothing, so hooks may run without one.
type Journal struct {
	rdb *redis.Client

	mu      sync.Mutex
	entries []journalEntry
	seen    map[string]struct{}
}

type journalEntry struct {
	key       string
	isHash    bool
	spend     bool
	committed bool
	existed   bool
	value     string
	fields    map[string]string
}

func NewJournal(rdb *redis.Client) *Journal {
	return &Journal{rdb: rdb, seen: make(map[string]struct{})}
}

// RecordString snapshots a plain tracking key before its first write.
func (j *Journal) RecordString(ctx context.Context, key string) error {
	return j.record(ctx, key, false, false)
}

// RecordHash snapshots a hash tracking key before its first write.
func (j *Journal) RecordHash(ctx context.Context, key string) error {
	return j.record(ctx, key, true, false)
}

// RecordSpend snapshots a plain spend key before its first write since the
// last commit.
func (j *Journal) RecordSpend(ctx context.Context, key string) error {
	return j.record(ctx, key, false, true)
}

// RecordSpendHash snapshots a hash spend key before its first write since
// the last commit.
func (j *Journal) RecordSpendHash(ctx context.Context, key string) error {
	return j.record(ctx, key, true, true)
}

func (j *Journal) record(ctx context.Context, key string, isHash, spend bool) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.seen[key]; ok {
		return nil
	}

	e := journalEntry{key: key, isHash: isHash, spend: spend}
	if isHash {
		fields, err := j.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("journal read: %w", err)
		}
		e.existed = len(fields) > 0
		e.fields = fields
	} else {
		val, err := j.rdb.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return fmt.Errorf("journal read: %w", err)
		default:
			e.existed = true
			e.value = val
		}
	}
	j.seen[key] = struct{}{}
	j.entries = append(j.entries, e)
	return nil
}

// CommitSpends makes every uncommitted spend entry permanent. Committed
// keys may be re-recorded by a later context, snapshotting the value the
// committed execution left behind.
func (j *Journal) CommitSpends() {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		if j.entries[i].spend && !j.entries[i].committed {
			j.entries[i].committed = true
			delete(j.seen, j.entries[i].key)
		}
	}
}

// Revert restores every uncommitted key to its snapshot, newest first.
// It keeps going past individual write errors and reports the first one.
func (j *Journal) Revert(ctx context.Context) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for i := len(j.entries) - 1; i >= 0; i-- {
		e := j.entries[i]
		if e.committed {
			continue
		}
		keep(j.rdb.Del(ctx, e.key).Err())
		if !e.existed {
			continue
		}
		if e.isHash {
			args := make([]any, 0, len(e.fields)*2)
			for f, v := range e.fields {
				args = append(args, f, v)
			}
			keep(j.rdb.HSet(ctx, e.key, args...).Err())
		} else {
			keep(j.rdb.Set(ctx, e.key, e.value, 0).Err())
		}
	}
	return first
}
