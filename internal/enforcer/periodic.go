package enforcer

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const periodClaimKeyFmt = "enforcer:period:%s:%s" // caller, delegationHash

// PeriodicAllowance grants up to perPeriod of an asset in each fixed-length
// period; the claimed amount resets when a new period begins. Terms:
// asset(20) || perPeriod(32) || periodSec(8) || startUnix(8).
type PeriodicAllowance struct {
	Base
	rdb *redis.Client
	Now func() int64
}

func NewPeriodicAllowance(rdb *redis.Client) *PeriodicAllowance {
	return &PeriodicAllowance{rdb: rdb, Now: func() int64 { return time.Now().Unix() }}
}

func (*PeriodicAllowance) Name() string { return "periodic-allowance" }

type periodicTerms struct {
	asset     common.Address
	perPeriod *big.Int
	periodSec int64
	start     int64
}

func decodePeriodicTerms(terms []byte) (periodicTerms, error) {
	if len(terms) != 68 {
		return periodicTerms{}, fmt.Errorf("%w: %d bytes, want 68", ErrInvalidTermsLength, len(terms))
	}
	pt := periodicTerms{
		asset:     common.BytesToAddress(terms[0:20]),
		perPeriod: newUint(terms[20:52]),
		periodSec: int64(binary.BigEndian.Uint64(terms[52:60])),
		start:     int64(binary.BigEndian.Uint64(terms[60:68])),
	}
	if pt.perPeriod.Sign() == 0 {
		return periodicTerms{}, fmt.Errorf("%w: zero period amount", ErrInvalidTermsLength)
	}
	if pt.periodSec <= 0 {
		return periodicTerms{}, fmt.Errorf("%w: zero period duration", ErrInvalidTermsLength)
	}
	if pt.start <= 0 {
		return periodicTerms{}, fmt.Errorf("%w: zero start time", ErrInvalidTermsLength)
	}
	return pt, nil
}

func (e *PeriodicAllowance) BeforeHook(ctx context.Context, req *HookRequest) error {
	if err := requireDefault(req.Mode); err != nil {
		return err
	}
	pt, err := decodePeriodicTerms(req.Terms)
	if err != nil {
		return err
	}
	_, amount, err := decodeAssetTransfer(req.Mode, req.Payload, pt.asset)
	if err != nil {
		return err
	}

	now := e.Now()
	if now < pt.start {
		return fmt.Errorf("%w: now %d < start %d", ErrClaimNotStarted, now, pt.start)
	}
	periodIndex := (now - pt.start) / pt.periodSec

	key := fmt.Sprintf(periodClaimKeyFmt, req.Caller.Hex(), req.DelegationHash.Hex())
	vals, err := e.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("enforcer state read: %w", err)
	}

	claimed := new(big.Int)
	if idx, ok := vals["index"]; ok && idx == fmt.Sprint(periodIndex) {
		// Same period: carry the claimed amount forward.
		claimed, ok = new(big.Int).SetString(vals["claimed"], 10)
		if !ok {
			return fmt.Errorf("corrupt enforcer state at %s", key)
		}
	}

	next, err := checkedAdd(claimed, amount)
	if err != nil {
		return err
	}
	if next.Cmp(pt.perPeriod) > 0 {
		return fmt.Errorf("%w: %s claimed + %s attempted > %s per period", ErrClaimAmountExceeded, claimed, amount, pt.perPeriod)
	}
	if err := req.Journal.RecordSpendHash(ctx, key); err != nil {
		return err
	}
	return e.rdb.HSet(ctx, key, "index", fmt.Sprint(periodIndex), "claimed", next.String()).Err()
}
