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

const swapSpentKeyFmt = "enforcer:swapout:%s:%s" // caller, delegationHash

// SwapOffer encodes a conditional exchange: the redeemer may draw up to
// offeredOut of tokenOut, provided a nested payment chain (args, JSON) pays
// tokenIn to the recipient at the signed rate before the draw proceeds. The
// required input is ceil(requested · requiredIn / offeredOut), and partial
// fills accumulate against the offered amount.
//
// Terms: tokenOut(20) || tokenIn(20) || offeredOut(32) || requiredIn(32) ||
// recipient(20).
type SwapOffer struct {
	Base
	rdb *redis.Client
	led ledger.Ledger
}

func NewSwapOffer(rdb *redis.Client, led ledger.Ledger) *SwapOffer {
	return &SwapOffer{rdb: rdb, led: led}
}

func (*SwapOffer) Name() string { return "swap-offer" }

type swapTerms struct {
	tokenOut   common.Address
	tokenIn    common.Address
	offeredOut *big.Int
	requiredIn *big.Int
	recipient  common.Address
}

func decodeSwapTerms(terms []byte) (swapTerms, error) {
	if len(terms) != 124 {
		return swapTerms{}, fmt.Errorf("%w: %d bytes, want 124", ErrInvalidTermsLength, len(terms))
	}
	st := swapTerms{
		tokenOut:   common.BytesToAddress(terms[0:20]),
		tokenIn:    common.BytesToAddress(terms[20:40]),
		offeredOut: newUint(terms[40:72]),
		requiredIn: newUint(terms[72:104]),
		recipient:  common.BytesToAddress(terms[104:124]),
	}
	if st.offeredOut.Sign() == 0 {
		return swapTerms{}, fmt.Errorf("%w: zero offered amount", ErrInvalidTermsLength)
	}
	return st, nil
}

func (e *SwapOffer) BeforeHook(ctx context.Context, req *HookRequest) error {
	if err := requireDefault(req.Mode); err != nil {
		return err
	}
	st, err := decodeSwapTerms(req.Terms)
	if err != nil {
		return err
	}

	exec, err := decodeSingle(req.Mode, req.Payload)
	if err != nil {
		return err
	}
	if exec.Target != st.tokenOut {
		return fmt.Errorf("%w: target %s is not offered token %s", ErrInvalidToken, exec.Target.Hex(), st.tokenOut.Hex())
	}
	_, requested, err := ledger.DecodeTransfer(exec.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMethod, err)
	}

	key := fmt.Sprintf(swapSpentKeyFmt, req.Caller.Hex(), req.DelegationHash.Hex())
	drawn, err := readAmount(ctx, e.rdb, key)
	if err != nil {
		return err
	}
	nextDrawn, err := checkedAdd(drawn, requested)
	if err != nil {
		return err
	}
	if nextDrawn.Cmp(st.offeredOut) > 0 {
		return fmt.Errorf("%w: %s drawn + %s requested > %s offered", ErrExceedsOutputAmount, drawn, requested, st.offeredOut)
	}

	// Pro-rata input, rounded up so partial fills never underpay.
	num, err := checkedMul(requested, st.requiredIn)
	if err != nil {
		return err
	}
	owedIn := new(big.Int).Div(new(big.Int).Add(num, new(big.Int).Sub(st.offeredOut, big.NewInt(1))), st.offeredOut)

	if owedIn.Sign() > 0 {
		chain, err := decodePaymentChain(req.Args)
		if err != nil {
			return err
		}
		before, err := e.led.BalanceOf(ctx, st.tokenIn, st.recipient)
		if err != nil {
			return err
		}
		payload := delegation.EncodeSingle(delegation.Execution{
			Target:  st.tokenIn,
			Value:   new(big.Int),
			Payload: ledger.EncodeTransfer(st.recipient, owedIn),
		})
		err = req.Redeem(ctx, AddressOf(e.Name()),
			[][]delegation.Delegation{chain},
			[]delegation.Mode{{Call: delegation.CallSingle, Exec: delegation.ExecDefault}},
			[][]byte{payload},
		)
		if err != nil {
			return fmt.Errorf("swap payment redemption: %w", err)
		}
		current, err := e.led.BalanceOf(ctx, st.tokenIn, st.recipient)
		if err != nil {
			return err
		}
		required, err := checkedAdd(before, owedIn)
		if err != nil {
			return err
		}
		if current.Cmp(required) < 0 {
			return fmt.Errorf("%w: swap recipient %s has %s, required %s", ErrInsufficientBalanceChange, st.recipient.Hex(), current, required)
		}
	}

	if err := req.Journal.RecordSpend(ctx, key); err != nil {
		return err
	}
	return writeAmount(ctx, e.rdb, key, nextDrawn)
}
