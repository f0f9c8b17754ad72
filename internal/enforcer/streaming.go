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

const streamSpentKeyFmt = "enforcer:stream:%s:%s" // caller, delegationHash

// StreamingAllowance meters asset transfers against a linearly unlocking
// allowance: available(t) = min(max, initial + perSec·(t − start)), zero
// before start. Terms: asset(20) || initial(32) || max(32) || perSec(32) ||
// startUnix(8).
type StreamingAllowance struct {
	Base
	rdb *redis.Client
	Now func() int64
}

func NewStreamingAllowance(rdb *redis.Client) *StreamingAllowance {
	return &StreamingAllowance{rdb: rdb, Now: func() int64 { return time.Now().Unix() }}
}

func (*StreamingAllowance) Name() string { return "streaming-allowance" }

type streamingTerms struct {
	asset   common.Address
	initial *big.Int
	max     *big.Int
	perSec  *big.Int
	start   int64
}

func decodeStreamingTerms(terms []byte) (streamingTerms, error) {
	if len(terms) != 124 {
		return streamingTerms{}, fmt.Errorf("%w: %d bytes, want 124", ErrInvalidTermsLength, len(terms))
	}
	st := streamingTerms{
		asset:   common.BytesToAddress(terms[0:20]),
		initial: newUint(terms[20:52]),
		max:     newUint(terms[52:84]),
		perSec:  newUint(terms[84:116]),
		start:   int64(binary.BigEndian.Uint64(terms[116:124])),
	}
	if st.start <= 0 {
		return streamingTerms{}, fmt.Errorf("%w: zero start time", ErrInvalidTermsLength)
	}
	if st.max.Cmp(st.initial) < 0 {
		return streamingTerms{}, fmt.Errorf("%w: max below initial", ErrInvalidTermsLength)
	}
	return st, nil
}

// available computes the unlocked amount at time t.
func (st streamingTerms) available(t int64) (*big.Int, error) {
	if t < st.start {
		return new(big.Int), nil
	}
	unlocked, err := checkedMul(st.perSec, big.NewInt(t-st.start))
	if err != nil {
		return nil, err
	}
	unlocked, err = checkedAdd(unlocked, st.initial)
	if err != nil {
		return nil, err
	}
	if unlocked.Cmp(st.max) > 0 {
		return st.max, nil
	}
	return unlocked, nil
}

func (e *StreamingAllowance) BeforeHook(ctx context.Context, req *HookRequest) error {
	if err := requireDefault(req.Mode); err != nil {
		return err
	}
	st, err := decodeStreamingTerms(req.Terms)
	if err != nil {
		return err
	}
	_, amount, err := decodeAssetTransfer(req.Mode, req.Payload, st.asset)
	if err != nil {
		return err
	}

	avail, err := st.available(e.Now())
	if err != nil {
		return err
	}

	key := fmt.Sprintf(streamSpentKeyFmt, req.Caller.Hex(), req.DelegationHash.Hex())
	spent, err := readAmount(ctx, e.rdb, key)
	if err != nil {
		return err
	}
	next, err := checkedAdd(spent, amount)
	if err != nil {
		return err
	}
	if next.Cmp(avail) > 0 {
		return fmt.Errorf("%w: %s spent + %s attempted > %s unlocked", ErrAllowanceExceeded, spent, amount, avail)
	}
	if err := req.Journal.RecordSpend(ctx, key); err != nil {
		return err
	}
	return writeAmount(ctx, e.rdb, key, next)
}
