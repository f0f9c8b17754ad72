package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/deleguard/deleguard/internal/delegation"
	"github.com/deleguard/deleguard/internal/ledger"
)

// Sink receives fully authorized executions. onBehalfOf is the account whose
// authority backs the call: the root delegator of the chain, or the redeemer
// for a self-execution.
type Sink interface {
	Execute(ctx context.Context, onBehalfOf common.Address, exec delegation.Execution) ([]byte, error)
}

// Handler executes one call against a registered target.
type Handler func(ctx context.Context, onBehalfOf common.Address, exec delegation.Execution) ([]byte, error)

// Dispatcher routes executions by target address. Before the handler runs,
// the execution value moves in the base asset from onBehalfOf to the target.
// A target with no handler accepts pure value moves only.
type Dispatcher struct {
	led      ledger.Ledger
	handlers map[common.Address]Handler
}

func NewDispatcher(led ledger.Ledger) *Dispatcher {
	return &Dispatcher{led: led, handlers: make(map[common.Address]Handler)}
}

func (d *Dispatcher) Register(target common.Address, h Handler) {
	d.handlers[target] = h
}

// RegisterToken installs the canonical transfer handler for an asset: the
// payload decodes as transfer(to, amount) and applies as a ledger move from
// onBehalfOf.
func (d *Dispatcher) RegisterToken(asset common.Address) {
	d.handlers[asset] = func(ctx context.Context, onBehalfOf common.Address, exec delegation.Execution) ([]byte, error) {
		to, amount, err := ledger.DecodeTransfer(exec.Payload)
		if err != nil {
			return nil, err
		}
		return nil, d.led.Transfer(ctx, asset, onBehalfOf, to, amount)
	}
}

func (d *Dispatcher) Execute(ctx context.Context, onBehalfOf common.Address, exec delegation.Execution) ([]byte, error) {
	if exec.Value != nil && exec.Value.Sign() > 0 {
		if err := d.led.Transfer(ctx, ledger.BaseAsset, onBehalfOf, exec.Target, exec.Value); err != nil {
			return nil, err
		}
	}
	h, ok := d.handlers[exec.Target]
	if !ok {
		if len(exec.Payload) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, exec.Target.Hex())
	}
	return h(ctx, onBehalfOf, exec)
}
