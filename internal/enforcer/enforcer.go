// Package enforcer holds the caveat enforcer interface and the policy
// module library. Enforcers are stateless values over Redis-backed
// bookkeeping keyed by (caller, delegationHash[, asset, recipient]), so
// unrelated delegations never share accounting state.
package enforcer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/deleguard/deleguard/internal/delegation"
)

// RedeemFunc is the engine's redemption entry point, handed to hooks so an
// enforcer can trigger a nested redemption (offer/payment composition).
// The nested redeemer is the enforcer's own registry address.
type RedeemFunc func(ctx context.Context, redeemer common.Address, contexts [][]delegation.Delegation, modes []delegation.Mode, payloads [][]byte) error

// HookRequest carries everything an enforcer may inspect for one hook call.
// Terms come from the signed delegation; Args are redeemer-controlled and
// must never relax a check.
type HookRequest struct {
	Caller         common.Address // engine identity, scopes all enforcer state
	Redeemer       common.Address
	Delegator      common.Address
	DelegationHash common.Hash
	Terms          []byte
	Args           []byte
	Mode           delegation.Mode
	Payload        []byte
	Redeem         RedeemFunc

	// Journal receives a snapshot of every state key a hook writes, so the
	// engine can revert enforcer state when the redemption aborts. May be
	// nil; stateful hooks must record before writing.
	Journal *Journal
}

// Enforcer is the polymorphic policy module contract. BeforeHook/AfterHook
// bracket a single hop's execution; BeforeAllHook/AfterAllHook bracket the
// whole redemption call and may aggregate across hops and contexts.
type Enforcer interface {
	Name() string
	BeforeAllHook(ctx context.Context, req *HookRequest) error
	BeforeHook(ctx context.Context, req *HookRequest) error
	AfterHook(ctx context.Context, req *HookRequest) error
	AfterAllHook(ctx context.Context, req *HookRequest) error
}

// Base provides no-op hooks; concrete enforcers embed it and override what
// they need.
type Base struct{}

func (Base) BeforeAllHook(context.Context, *HookRequest) error { return nil }
func (Base) BeforeHook(context.Context, *HookRequest) error    { return nil }
func (Base) AfterHook(context.Context, *HookRequest) error     { return nil }
func (Base) AfterAllHook(context.Context, *HookRequest) error  { return nil }
