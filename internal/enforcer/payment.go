package enforcer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/deleguard/deleguard/internal/delegation"
	"github.com/deleguard/deleguard/internal/ledger"
)

const paymentSnapKeyFmt = "enforcer:paysnap:%s:%s" // caller, delegationHash

// Payment makes a delegation conditional on the redeemer paying for it: the
// args carry a nested payment delegation chain (JSON), which the AfterHook
// redeems against the engine to move the owed amount, then verifies the
// recipient's balance actually rose. The nested chain is subject to its own
// caveats and its leaf delegate must be this enforcer's registry address.
//
// Terms: asset(20) || recipient(20) || amount(32).
type Payment struct {
	Base
	rdb *redis.Client
	led ledger.Ledger
}

func NewPayment(rdb *redis.Client, led ledger.Ledger) *Payment {
	return &Payment{rdb: rdb, led: led}
}

func (*Payment) Name() string { return "payment" }

type paymentTerms struct {
	asset     common.Address
	recipient common.Address
	amount    *big.Int
}

func decodePaymentTerms(terms []byte) (paymentTerms, error) {
	if len(terms) != 72 {
		return paymentTerms{}, fmt.Errorf("%w: %d bytes, want 72", ErrInvalidTermsLength, len(terms))
	}
	pt := paymentTerms{
		asset:     common.BytesToAddress(terms[0:20]),
		recipient: common.BytesToAddress(terms[20:40]),
		amount:    newUint(terms[40:72]),
	}
	if pt.amount.Sign() == 0 {
		return paymentTerms{}, fmt.Errorf("%w: zero payment amount", ErrInvalidTermsLength)
	}
	return pt, nil
}

// decodePaymentChain parses the redeemer-supplied nested chain. The chain is
// untrusted: the engine re-validates its signatures and caveats when it is
// redeemed.
func decodePaymentChain(args []byte) ([]delegation.Delegation, error) {
	var chain []delegation.Delegation
	if err := json.Unmarshal(args, &chain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCaveatArgsLength, err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty payment chain", ErrInvalidCaveatArgsLength)
	}
	return chain, nil
}

func (e *Payment) snapKey(req *HookRequest) string {
	return fmt.Sprintf(paymentSnapKeyFmt, req.Caller.Hex(), req.DelegationHash.Hex())
}

func (e *Payment) BeforeHook(ctx context.Context, req *HookRequest) error {
	if err := requireDefault(req.Mode); err != nil {
		return err
	}
	pt, err := decodePaymentTerms(req.Terms)
	if err != nil {
		return err
	}
	before, err := e.led.BalanceOf(ctx, pt.asset, pt.recipient)
	if err != nil {
		return err
	}
	if err := req.Journal.RecordString(ctx, e.snapKey(req)); err != nil {
		return err
	}
	return writeAmount(ctx, e.rdb, e.snapKey(req), before)
}

func (e *Payment) AfterHook(ctx context.Context, req *HookRequest) error {
	pt, err := decodePaymentTerms(req.Terms)
	if err != nil {
		return err
	}
	chain, err := decodePaymentChain(req.Args)
	if err != nil {
		return err
	}

	before, err := readAmount(ctx, e.rdb, e.snapKey(req))
	if err != nil {
		return err
	}

	payload := delegation.EncodeSingle(delegation.Execution{
		Target:  pt.asset,
		Value:   new(big.Int),
		Payload: ledger.EncodeTransfer(pt.recipient, pt.amount),
	})
	err = req.Redeem(ctx, AddressOf(e.Name()),
		[][]delegation.Delegation{chain},
		[]delegation.Mode{{Call: delegation.CallSingle, Exec: delegation.ExecDefault}},
		[][]byte{payload},
	)
	if err != nil {
		return fmt.Errorf("payment redemption: %w", err)
	}

	current, err := e.led.BalanceOf(ctx, pt.asset, pt.recipient)
	if err != nil {
		return err
	}
	required, err := checkedAdd(before, pt.amount)
	if err != nil {
		return err
	}
	if current.Cmp(required) < 0 {
		return fmt.Errorf("%w: payment recipient %s has %s, required %s", ErrInsufficientBalanceChange, pt.recipient.Hex(), current, required)
	}
	return e.rdb.Del(ctx, e.snapKey(req)).Err()
}
