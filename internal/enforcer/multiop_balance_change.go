package enforcer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/deleguard/deleguard/internal/ledger"
)

const balanceTrackKeyFmt = "enforcer:baltrack:%s:%d:%s:%s" // caller, direction, asset, recipient

// MultiOpBalanceChange is the aggregating sibling of BalanceChange: N
// delegations in one redemption call may share a tracking key. Each
// BeforeAllHook adds its required delta to the expected change and bumps a
// pending counter; only the snapshot of the first use is kept. Each
// AfterAllHook decrements pending, and the Nth one validates the aggregate
// and clears the entry.
//
// Known sharp edge, kept on purpose: sibling demands on one key are summed
// and validated once against the first snapshot, so any inflow to the
// recipient during the call counts toward the aggregate regardless of which
// sibling it was meant to settle. Callers who need per-use settlement must
// use BalanceChange.
type MultiOpBalanceChange struct {
	Base
	rdb *redis.Client
	led ledger.Ledger
}

func NewMultiOpBalanceChange(rdb *redis.Client, led ledger.Ledger) *MultiOpBalanceChange {
	return &MultiOpBalanceChange{rdb: rdb, led: led}
}

func (*MultiOpBalanceChange) Name() string { return "multiop-balance-change" }

func (e *MultiOpBalanceChange) trackKey(caller common.Address, bt balanceTerms) string {
	dir := dirIncrease
	if bt.decrease {
		dir = dirDecrease
	}
	return fmt.Sprintf(balanceTrackKeyFmt, caller.Hex(), dir, bt.asset.Hex(), bt.recipient.Hex())
}

func (e *MultiOpBalanceChange) BeforeAllHook(ctx context.Context, req *HookRequest) error {
	if err := requireDefault(req.Mode); err != nil {
		return err
	}
	bt, err := decodeBalanceTerms(req.Terms)
	if err != nil {
		return err
	}
	if bt.amount.Sign() == 0 {
		return ErrZeroExpectedChange
	}

	key := e.trackKey(req.Caller, bt)
	if err := req.Journal.RecordHash(ctx, key); err != nil {
		return err
	}
	vals, err := e.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("enforcer state read: %w", err)
	}

	if len(vals) == 0 {
		// First use: snapshot the balance. Later uses in the same redemption
		// keep this snapshot so transfers between grouped before-calls are
		// absorbed into the aggregate.
		before, err := e.led.BalanceOf(ctx, bt.asset, bt.recipient)
		if err != nil {
			return err
		}
		return e.rdb.HSet(ctx, key,
			"before", before.String(),
			"expected", bt.amount.String(),
			"pending", 1,
		).Err()
	}

	expected, ok := new(big.Int).SetString(vals["expected"], 10)
	if !ok {
		return fmt.Errorf("corrupt enforcer state at %s", key)
	}
	expected, err = checkedAdd(expected, bt.amount)
	if err != nil {
		return err
	}
	if err := e.rdb.HSet(ctx, key, "expected", expected.String()).Err(); err != nil {
		return err
	}
	return e.rdb.HIncrBy(ctx, key, "pending", 1).Err()
}

func (e *MultiOpBalanceChange) AfterAllHook(ctx context.Context, req *HookRequest) error {
	bt, err := decodeBalanceTerms(req.Terms)
	if err != nil {
		return err
	}
	key := e.trackKey(req.Caller, bt)

	pending, err := e.rdb.HIncrBy(ctx, key, "pending", -1).Result()
	if err != nil {
		return fmt.Errorf("enforcer state write: %w", err)
	}
	if pending > 0 {
		// Not the last matching after-call; validation waits for it.
		return nil
	}

	vals, err := e.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("enforcer state read: %w", err)
	}
	before, ok1 := new(big.Int).SetString(vals["before"], 10)
	expected, ok2 := new(big.Int).SetString(vals["expected"], 10)
	if !ok1 || !ok2 {
		return fmt.Errorf("corrupt enforcer state at %s", key)
	}

	current, err := e.led.BalanceOf(ctx, bt.asset, bt.recipient)
	if err != nil {
		return err
	}

	if err := e.rdb.Del(ctx, key).Err(); err != nil {
		return err
	}

	if bt.decrease {
		floor := new(big.Int).Sub(before, expected)
		if current.Cmp(floor) < 0 {
			return fmt.Errorf("%w: %s dropped from %s to %s, floor %s", ErrExcessiveBalanceDecrease, bt.recipient.Hex(), before, current, floor)
		}
		return nil
	}
	required, err := checkedAdd(before, expected)
	if err != nil {
		return err
	}
	if current.Cmp(required) < 0 {
		return fmt.Errorf("%w: %s has %s, required %s", ErrInsufficientBalanceChange, bt.recipient.Hex(), current, required)
	}
	return nil
}
