package enforcer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/deleguard/deleguard/internal/ledger"
)

// Balance-delta terms: direction(1) || asset(20) || recipient(32→20) ||
// amount(32), 73 bytes. Direction 0 requires the recipient's balance to
// increase by at least amount; direction 1 bounds the decrease to at most
// amount.
const (
	dirIncrease = 0x00
	dirDecrease = 0x01
)

type balanceTerms struct {
	decrease  bool
	asset     common.Address
	recipient common.Address
	amount    *big.Int
}

func decodeBalanceTerms(terms []byte) (balanceTerms, error) {
	if len(terms) != 73 {
		return balanceTerms{}, fmt.Errorf("%w: %d bytes, want 73", ErrInvalidTermsLength, len(terms))
	}
	var bt balanceTerms
	switch terms[0] {
	case dirIncrease:
	case dirDecrease:
		bt.decrease = true
	default:
		return balanceTerms{}, fmt.Errorf("%w: unknown direction %#x", ErrInvalidTermsLength, terms[0])
	}
	bt.asset = common.BytesToAddress(terms[1:21])
	bt.recipient = common.BytesToAddress(terms[21:41])
	bt.amount = newUint(terms[41:73])
	return bt, nil
}

const balanceLockKeyFmt = "enforcer:ballock:%s:%s:%s" // caller, asset, recipient

// BalanceChange asserts a balance delta across one hop's before/after pair.
// The tracking key is strictly single-use: a second BeforeHook on the same
// (caller, asset, recipient) without an intervening AfterHook fails with
// ErrEnforcerLocked. This is the non-aggregating sibling of
// MultiOpBalanceChange.
type BalanceChange struct {
	Base
	rdb *redis.Client
	led ledger.Ledger
}

func NewBalanceChange(rdb *redis.Client, led ledger.Ledger) *BalanceChange {
	return &BalanceChange{rdb: rdb, led: led}
}

func (*BalanceChange) Name() string { return "balance-change" }

func (e *BalanceChange) lockKey(caller common.Address, bt balanceTerms) string {
	return fmt.Sprintf(balanceLockKeyFmt, caller.Hex(), bt.asset.Hex(), bt.recipient.Hex())
}

func (e *BalanceChange) BeforeHook(ctx context.Context, req *HookRequest) error {
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

	key := e.lockKey(req.Caller, bt)
	n, err := e.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("enforcer state read: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: tracker in use for %s/%s", ErrEnforcerLocked, bt.asset.Hex(), bt.recipient.Hex())
	}

	before, err := e.led.BalanceOf(ctx, bt.asset, bt.recipient)
	if err != nil {
		return err
	}
	if err := req.Journal.RecordString(ctx, key); err != nil {
		return err
	}
	return writeAmount(ctx, e.rdb, key, before)
}

func (e *BalanceChange) AfterHook(ctx context.Context, req *HookRequest) error {
	bt, err := decodeBalanceTerms(req.Terms)
	if err != nil {
		return err
	}
	key := e.lockKey(req.Caller, bt)
	before, err := readAmount(ctx, e.rdb, key)
	if err != nil {
		return err
	}
	current, err := e.led.BalanceOf(ctx, bt.asset, bt.recipient)
	if err != nil {
		return err
	}

	if bt.decrease {
		floor := new(big.Int).Sub(before, bt.amount)
		if current.Cmp(floor) < 0 {
			return fmt.Errorf("%w: %s dropped from %s to %s, floor %s", ErrExcessiveBalanceDecrease, bt.recipient.Hex(), before, current, floor)
		}
	} else {
		required, err := checkedAdd(before, bt.amount)
		if err != nil {
			return err
		}
		if current.Cmp(required) < 0 {
			return fmt.Errorf("%w: %s has %s, required %s", ErrInsufficientBalanceChange, bt.recipient.Hex(), current, required)
		}
	}
	// Validation done: release the lock so the key may be reused.
	return e.rdb.Del(ctx, key).Err()
}
