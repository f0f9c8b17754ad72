// Package queue is the async redemption path: callers enqueue tasks into a
// Redis list and a worker loop redeems them, dead-lettering failures.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deleguard/deleguard/internal/delegation"
)

const blpopTimeout = 5 * time.Second

// Redeemer is the slice of the engine the worker needs.
type Redeemer interface {
	RedeemDelegations(ctx context.Context, redeemer common.Address, contexts [][]delegation.Delegation, modes []delegation.Mode, payloads [][]byte) error
}

// Enqueue pushes a task onto the queue, assigning an id if the caller did
// not. Returns the task id.
func Enqueue(ctx context.Context, rdb *redis.Client, task Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	if err := rdb.RPush(ctx, QueueKey, string(raw)).Err(); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Run is the worker loop: BLPOP → redeem → DLQ on failure. It returns when
// the context is canceled.
func Run(ctx context.Context, rdb *redis.Client, eng Redeemer, log *zap.Logger) {
	log.Info("redemption worker started", zap.String("queue", QueueKey))

	for {
		if ctx.Err() != nil {
			log.Info("redemption worker stopped")
			return
		}

		results, err := rdb.BLPop(ctx, blpopTimeout, QueueKey).Result()
		if err != nil {
			if err == redis.Nil {
				// Timeout: no items, loop back
				continue
			}
			if ctx.Err() != nil {
				log.Info("redemption worker stopped")
				return
			}
			log.Error("worker: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		// results[0] = key, results[1] = value
		raw := results[1]
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			log.Error("worker: unmarshal task", zap.String("raw", raw), zap.Error(err))
			rdb.RPush(ctx, DLQKey, raw)
			continue
		}
		Process(ctx, rdb, eng, task, log)
	}
}

// Process redeems one task. A failed task moves to the DLQ with the error
// string; it is never retried automatically. A panic inside the engine is
// converted to a task failure so one poisoned task cannot kill the worker.
func Process(ctx context.Context, rdb *redis.Client, eng Redeemer, task Task, log *zap.Logger) {
	payloads := make([][]byte, len(task.Payloads))
	for i, p := range task.Payloads {
		payloads[i] = p
	}

	if err := redeemTask(ctx, eng, task, payloads); err != nil {
		entry, merr := json.Marshal(DeadLetter{Task: task, Error: err.Error()})
		if merr != nil {
			log.Error("worker: marshal dead letter", zap.String("id", task.ID), zap.Error(merr))
			return
		}
		rdb.RPush(ctx, DLQKey, string(entry))
		log.Error("task failed",
			zap.String("id", task.ID),
			zap.String("redeemer", task.Redeemer.Hex()),
			zap.Error(err),
		)
		return
	}

	log.Info("task redeemed",
		zap.String("id", task.ID),
		zap.String("redeemer", task.Redeemer.Hex()),
		zap.Int("contexts", len(task.Contexts)),
	)
}

func redeemTask(ctx context.Context, eng Redeemer, task Task, payloads [][]byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("redemption panic: %v", r)
		}
	}()
	return eng.RedeemDelegations(ctx, task.Redeemer, task.Contexts, task.Modes, payloads)
}
