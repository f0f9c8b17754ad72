package enforcer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/deleguard/deleguard/internal/delegation"
	"github.com/deleguard/deleguard/internal/ledger"
)

const (
	spentKeyFmt      = "enforcer:spent:%s:%s"  // caller, delegationHash
	valueSpentKeyFmt = "enforcer:vspent:%s:%s" // caller, delegationHash
)

// decodeAssetTransfer checks that the execution is a canonical transfer of
// the given asset and returns its recipient and amount.
func decodeAssetTransfer(mode delegation.Mode, payload []byte, asset common.Address) (common.Address, *big.Int, error) {
	exec, err := decodeSingle(mode, payload)
	if err != nil {
		return common.Address{}, nil, err
	}
	if exec.Target != asset {
		return common.Address{}, nil, fmt.Errorf("%w: target %s is not asset %s", ErrInvalidToken, exec.Target.Hex(), asset.Hex())
	}
	to, amount, err := ledger.DecodeTransfer(exec.Payload)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", ErrInvalidMethod, err)
	}
	return to, amount, nil
}

// ── transfer-amount ──────────────────────────────────────────────────────────

// TransferAmount caps the lifetime amount of one asset a delegation may move.
// Terms: asset(20) || max(32). The spent accumulator is monotonic and
// commits only when the attempt fits under the cap.
type TransferAmount struct {
	Base
	rdb *redis.Client
}

func NewTransferAmount(rdb *redis.Client) *TransferAmount {
	return &TransferAmount{rdb: rdb}
}

func (*TransferAmount) Name() string { return "transfer-amount" }

func decodeAssetCap(terms []byte) (common.Address, *big.Int, error) {
	if len(terms) != 52 {
		return common.Address{}, nil, fmt.Errorf("%w: %d bytes, want 52", ErrInvalidTermsLength, len(terms))
	}
	return common.BytesToAddress(terms[0:20]), newUint(terms[20:52]), nil
}

func (e *TransferAmount) BeforeHook(ctx context.Context, req *HookRequest) error {
	if err := requireDefault(req.Mode); err != nil {
		return err
	}
	asset, max, err := decodeAssetCap(req.Terms)
	if err != nil {
		return err
	}
	_, amount, err := decodeAssetTransfer(req.Mode, req.Payload, asset)
	if err != nil {
		return err
	}

	key := fmt.Sprintf(spentKeyFmt, req.Caller.Hex(), req.DelegationHash.Hex())
	spent, err := readAmount(ctx, e.rdb, key)
	if err != nil {
		return err
	}
	next, err := checkedAdd(spent, amount)
	if err != nil {
		return err
	}
	if next.Cmp(max) > 0 {
		return fmt.Errorf("%w: %s spent + %s attempted > cap %s", ErrAllowanceExceeded, spent, amount, max)
	}
	if err := req.Journal.RecordSpend(ctx, key); err != nil {
		return err
	}
	return writeAmount(ctx, e.rdb, key, next)
}

// ── value-allowance ──────────────────────────────────────────────────────────

// ValueAllowance caps the lifetime execution value a delegation may spend.
// Terms: max(32).
type ValueAllowance struct {
	Base
	rdb *redis.Client
}

func NewValueAllowance(rdb *redis.Client) *ValueAllowance {
	return &ValueAllowance{rdb: rdb}
}

func (*ValueAllowance) Name() string { return "value-allowance" }

func (e *ValueAllowance) BeforeHook(ctx context.Context, req *HookRequest) error {
	if err := requireDefault(req.Mode); err != nil {
		return err
	}
	if len(req.Terms) != 32 {
		return fmt.Errorf("%w: %d bytes, want 32", ErrInvalidTermsLength, len(req.Terms))
	}
	max := newUint(req.Terms)
	exec, err := decodeSingle(req.Mode, req.Payload)
	if err != nil {
		return err
	}

	key := fmt.Sprintf(valueSpentKeyFmt, req.Caller.Hex(), req.DelegationHash.Hex())
	spent, err := readAmount(ctx, e.rdb, key)
	if err != nil {
		return err
	}
	next, err := checkedAdd(spent, exec.Value)
	if err != nil {
		return err
	}
	if next.Cmp(max) > 0 {
		return fmt.Errorf("%w: %s spent + %s attempted > cap %s", ErrAllowanceExceeded, spent, exec.Value, max)
	}
	if err := req.Journal.RecordSpend(ctx, key); err != nil {
		return err
	}
	return writeAmount(ctx, e.rdb, key, next)
}
