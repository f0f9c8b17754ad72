package enforcer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ── allowed-targets ──────────────────────────────────────────────────────────

// AllowedTargets restricts the execution target to a signed set of
// addresses. Terms: k×20 bytes, k ≥ 1. Single call type only.
type AllowedTargets struct {
	Base
}

func NewAllowedTargets() *AllowedTargets { return &AllowedTargets{} }

func (*AllowedTargets) Name() string { return "allowed-targets" }

func decodeAddressSet(terms []byte) ([]common.Address, error) {
	if len(terms) == 0 || len(terms)%20 != 0 {
		return nil, fmt.Errorf("%w: %d bytes, want non-empty multiple of 20", ErrInvalidTermsLength, len(terms))
	}
	out := make([]common.Address, 0, len(terms)/20)
	for i := 0; i < len(terms); i += 20 {
		out = append(out, common.BytesToAddress(terms[i:i+20]))
	}
	return out, nil
}

func (e *AllowedTargets) BeforeHook(_ context.Context, req *HookRequest) error {
	allowed, err := decodeAddressSet(req.Terms)
	if err != nil {
		return err
	}
	exec, err := decodeSingle(req.Mode, req.Payload)
	if err != nil {
		return err
	}
	for _, a := range allowed {
		if a == exec.Target {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnauthorizedTarget, exec.Target.Hex())
}

// ── allowed-methods ──────────────────────────────────────────────────────────

// AllowedMethods restricts the payload's 4-byte method selector to a signed
// set. Terms: k×4 bytes, k ≥ 1. Single call type only.
type AllowedMethods struct {
	Base
}

func NewAllowedMethods() *AllowedMethods { return &AllowedMethods{} }

func (*AllowedMethods) Name() string { return "allowed-methods" }

func decodeSelectorSet(terms []byte) ([][4]byte, error) {
	if len(terms) == 0 || len(terms)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes, want non-empty multiple of 4", ErrInvalidTermsLength, len(terms))
	}
	out := make([][4]byte, 0, len(terms)/4)
	for i := 0; i < len(terms); i += 4 {
		out = append(out, [4]byte(terms[i:i+4]))
	}
	return out, nil
}

func (e *AllowedMethods) BeforeHook(_ context.Context, req *HookRequest) error {
	allowed, err := decodeSelectorSet(req.Terms)
	if err != nil {
		return err
	}
	exec, err := decodeSingle(req.Mode, req.Payload)
	if err != nil {
		return err
	}
	if len(exec.Payload) < 4 {
		return fmt.Errorf("%w: payload too short for a selector", ErrUnauthorizedMethod)
	}
	sel := [4]byte(exec.Payload[:4])
	for _, a := range allowed {
		if a == sel {
			return nil
		}
	}
	return fmt.Errorf("%w: %x", ErrUnauthorizedMethod, sel)
}

// ── allowed-redeemers ────────────────────────────────────────────────────────

// AllowedRedeemers restricts who may redeem the delegation, independent of
// the leaf delegate. Terms: k×20 bytes, k ≥ 1.
type AllowedRedeemers struct {
	Base
}

func NewAllowedRedeemers() *AllowedRedeemers { return &AllowedRedeemers{} }

func (*AllowedRedeemers) Name() string { return "allowed-redeemers" }

func (e *AllowedRedeemers) BeforeHook(_ context.Context, req *HookRequest) error {
	allowed, err := decodeAddressSet(req.Terms)
	if err != nil {
		return err
	}
	for _, a := range allowed {
		if a == req.Redeemer {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnauthorizedRedeemer, req.Redeemer.Hex())
}

// ── allowed-calldata ─────────────────────────────────────────────────────────

// AllowedCalldata pins a payload slice at a fixed offset to expected bytes.
// Terms: offset(32) || expected(≥1). Single call type only.
type AllowedCalldata struct {
	Base
}

func NewAllowedCalldata() *AllowedCalldata { return &AllowedCalldata{} }

func (*AllowedCalldata) Name() string { return "allowed-calldata" }

func (e *AllowedCalldata) BeforeHook(_ context.Context, req *HookRequest) error {
	if len(req.Terms) < 33 {
		return fmt.Errorf("%w: %d bytes, want at least 33", ErrInvalidTermsLength, len(req.Terms))
	}
	offBig := newUint(req.Terms[:32])
	expected := req.Terms[32:]
	if !offBig.IsInt64() {
		return fmt.Errorf("%w: offset out of range", ErrInvalidExecution)
	}
	off := int(offBig.Int64())

	exec, err := decodeSingle(req.Mode, req.Payload)
	if err != nil {
		return err
	}
	// Compared against the payload length rather than off+len(expected),
	// which wraps for offsets near the int64 ceiling.
	if off < 0 || off > len(exec.Payload)-len(expected) {
		return fmt.Errorf("%w: calldata window out of range", ErrInvalidExecution)
	}
	if !bytes.Equal(exec.Payload[off:off+len(expected)], expected) {
		return fmt.Errorf("%w: calldata mismatch at offset %d", ErrInvalidExecution, off)
	}
	return nil
}
