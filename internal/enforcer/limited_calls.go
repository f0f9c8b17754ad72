package enforcer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/redis/go-redis/v9"
)

const callCountKeyFmt = "enforcer:calls:%s:%s" // caller, delegationHash

// LimitedCalls caps how many times a delegation may be redeemed. The counter
// is monotonic per (caller, delegationHash) and commits only on success.
// Terms: limit(32), limit > 0.
type LimitedCalls struct {
	Base
	rdb *redis.Client
}

func NewLimitedCalls(rdb *redis.Client) *LimitedCalls {
	return &LimitedCalls{rdb: rdb}
}

func (*LimitedCalls) Name() string { return "limited-calls" }

func (e *LimitedCalls) BeforeHook(ctx context.Context, req *HookRequest) error {
	if err := requireDefault(req.Mode); err != nil {
		return err
	}
	if len(req.Terms) != 32 {
		return fmt.Errorf("%w: %d bytes, want 32", ErrInvalidTermsLength, len(req.Terms))
	}
	limit := newUint(req.Terms)
	if limit.Sign() == 0 {
		return fmt.Errorf("%w: zero limit", ErrInvalidTermsLength)
	}

	key := fmt.Sprintf(callCountKeyFmt, req.Caller.Hex(), req.DelegationHash.Hex())
	count, err := readAmount(ctx, e.rdb, key)
	if err != nil {
		return err
	}
	if count.Cmp(limit) >= 0 {
		return fmt.Errorf("%w: %s calls used of %s", ErrLimitExceeded, count, limit)
	}
	next, err := checkedAdd(count, big.NewInt(1))
	if err != nil {
		return err
	}
	if err := req.Journal.RecordSpend(ctx, key); err != nil {
		return err
	}
	return writeAmount(ctx, e.rdb, key, next)
}
