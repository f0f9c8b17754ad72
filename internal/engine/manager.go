// Package engine implements delegation redemption: chain validation, the
// four caveat hook phases bracketing execution, and revocation.
package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deleguard/deleguard/internal/delegation"
	"github.com/deleguard/deleguard/internal/enforcer"
)

const disabledSetKeyFmt = "engine:disabled:%s" // engine address

// Manager is the redemption engine. Its address scopes all enforcer state
// and the revocation set, so two engines sharing a Redis never interfere.
type Manager struct {
	addr     common.Address
	reg      *enforcer.Registry
	sink     Sink
	rdb      *redis.Client
	verifier SignatureVerifier
	log      *zap.Logger
}

func NewManager(addr common.Address, reg *enforcer.Registry, sink Sink, rdb *redis.Client, verifier SignatureVerifier, log *zap.Logger) *Manager {
	return &Manager{addr: addr, reg: reg, sink: sink, rdb: rdb, verifier: verifier, log: log}
}

// Address returns the engine identity.
func (m *Manager) Address() common.Address { return m.addr }

// hop is one validated delegation with its precomputed hash.
type hop struct {
	d    delegation.Delegation
	hash common.Hash
}

// RedeemDelegations validates every permission context, then runs the hook
// phases around the executions: all beforeAll hooks first, then per context
// before hooks, execution, after hooks, and finally afterAll hooks in
// reverse context order. Hooks run root to leaf on the way in and leaf to
// root on the way out. Any failure aborts the whole call; ledger effects
// already applied are not rolled back.
func (m *Manager) RedeemDelegations(ctx context.Context, redeemer common.Address, contexts [][]delegation.Delegation, modes []delegation.Mode, payloads [][]byte) error {
	if len(contexts) != len(modes) || len(contexts) != len(payloads) {
		return fmt.Errorf("%w: %d contexts, %d modes, %d payloads", ErrBatchLengthMismatch, len(contexts), len(modes), len(payloads))
	}

	chains := make([][]hop, len(contexts))
	onBehalf := make([]common.Address, len(contexts))
	for i, chain := range contexts {
		hops, who, err := m.validateChain(ctx, redeemer, chain)
		if err != nil {
			return fmt.Errorf("context %d: %w", i, err)
		}
		chains[i] = hops
		onBehalf[i] = who
	}

	m.log.Debug("redeeming delegations",
		zap.String("redeemer", redeemer.Hex()),
		zap.Int("contexts", len(contexts)))

	// Enforcer state writes are journaled so an abort between hook phases
	// never leaks locks, trackers, or charges for executions that did not
	// run. Ledger effects of completed executions stay applied.
	journal := enforcer.NewJournal(m.rdb)
	if err := m.redeem(ctx, redeemer, chains, onBehalf, modes, payloads, journal); err != nil {
		if rerr := journal.Revert(ctx); rerr != nil {
			m.log.Error("enforcer state revert failed", zap.Error(rerr))
		}
		return err
	}
	return nil
}

func (m *Manager) redeem(ctx context.Context, redeemer common.Address, chains [][]hop, onBehalf []common.Address, modes []delegation.Mode, payloads [][]byte, journal *enforcer.Journal) error {
	for i := range chains {
		if err := m.runHooks(ctx, redeemer, chains[i], modes[i], payloads[i], phaseBeforeAll, journal); err != nil {
			return fmt.Errorf("context %d: %w", i, err)
		}
	}

	for i := range chains {
		if err := m.runHooks(ctx, redeemer, chains[i], modes[i], payloads[i], phaseBefore, journal); err != nil {
			return fmt.Errorf("context %d: %w", i, err)
		}
		if err := m.execute(ctx, onBehalf[i], modes[i], payloads[i]); err != nil {
			return fmt.Errorf("context %d: %w", i, err)
		}
		journal.CommitSpends()
		if err := m.runHooks(ctx, redeemer, chains[i], modes[i], payloads[i], phaseAfter, journal); err != nil {
			return fmt.Errorf("context %d: %w", i, err)
		}
	}

	for i := len(chains) - 1; i >= 0; i-- {
		if err := m.runHooks(ctx, redeemer, chains[i], modes[i], payloads[i], phaseAfterAll, journal); err != nil {
			return fmt.Errorf("context %d: %w", i, err)
		}
	}
	return nil
}

// validateChain checks a leaf-first chain and resolves who the executions
// act on behalf of. An empty chain is a self-execution by the redeemer.
func (m *Manager) validateChain(ctx context.Context, redeemer common.Address, chain []delegation.Delegation) ([]hop, common.Address, error) {
	if len(chain) == 0 {
		return nil, redeemer, nil
	}
	if chain[0].Delegate != redeemer {
		return nil, common.Address{}, fmt.Errorf("%w: delegate %s, redeemer %s", ErrInvalidDelegate, chain[0].Delegate.Hex(), redeemer.Hex())
	}

	hops := make([]hop, len(chain))
	for i := range chain {
		hops[i] = hop{d: chain[i], hash: chain[i].Hash()}
	}
	for i := range hops {
		d := &hops[i].d
		if err := m.verifier.Verify(d); err != nil {
			return nil, common.Address{}, fmt.Errorf("hop %d: %w", i, err)
		}
		disabled, err := m.IsDisabled(ctx, hops[i].hash)
		if err != nil {
			return nil, common.Address{}, err
		}
		if disabled {
			return nil, common.Address{}, fmt.Errorf("hop %d: %w: %s", i, ErrDelegationDisabled, hops[i].hash.Hex())
		}
		if i+1 < len(hops) {
			if d.Authority != hops[i+1].hash {
				return nil, common.Address{}, fmt.Errorf("hop %d: %w: authority %s does not match parent hash %s", i, ErrBrokenChain, d.Authority.Hex(), hops[i+1].hash.Hex())
			}
			if d.Delegator != hops[i+1].d.Delegate {
				return nil, common.Address{}, fmt.Errorf("hop %d: %w: delegator %s is not parent delegate %s", i, ErrBrokenChain, d.Delegator.Hex(), hops[i+1].d.Delegate.Hex())
			}
		} else if d.Authority != delegation.RootAuthority {
			return nil, common.Address{}, fmt.Errorf("hop %d: %w: non-root terminal authority %s", i, ErrBrokenChain, d.Authority.Hex())
		}
	}
	return hops, hops[len(hops)-1].d.Delegator, nil
}

type phase int

const (
	phaseBeforeAll phase = iota
	phaseBefore
	phaseAfter
	phaseAfterAll
)

// runHooks invokes one hook phase over every caveat of every hop. Chains are
// leaf-first, so the before phases iterate hops in reverse (root first) and
// the after phases iterate forward (leaf first).
func (m *Manager) runHooks(ctx context.Context, redeemer common.Address, hops []hop, mode delegation.Mode, payload []byte, ph phase, journal *enforcer.Journal) error {
	order := make([]int, len(hops))
	for i := range hops {
		if ph == phaseBeforeAll || ph == phaseBefore {
			order[i] = len(hops) - 1 - i
		} else {
			order[i] = i
		}
	}
	for _, hi := range order {
		h := hops[hi]
		for ci, cav := range h.d.Caveats {
			enf, err := m.reg.Resolve(cav.Enforcer)
			if err != nil {
				return fmt.Errorf("hop %d caveat %d: %w", hi, ci, err)
			}
			req := &enforcer.HookRequest{
				Caller:         m.addr,
				Redeemer:       redeemer,
				Delegator:      h.d.Delegator,
				DelegationHash: h.hash,
				Terms:          cav.Terms,
				Args:           cav.Args,
				Mode:           mode,
				Payload:        payload,
				Redeem:         m.RedeemDelegations,
				Journal:        journal,
			}
			switch ph {
			case phaseBeforeAll:
				err = enf.BeforeAllHook(ctx, req)
			case phaseBefore:
				err = enf.BeforeHook(ctx, req)
			case phaseAfter:
				err = enf.AfterHook(ctx, req)
			case phaseAfterAll:
				err = enf.AfterAllHook(ctx, req)
			}
			if err != nil {
				return fmt.Errorf("enforcer %s on hop %d: %w", enf.Name(), hi, err)
			}
		}
	}
	return nil
}

func (m *Manager) execute(ctx context.Context, onBehalfOf common.Address, mode delegation.Mode, payload []byte) error {
	var execs []delegation.Execution
	switch mode.Call {
	case delegation.CallSingle:
		exec, err := delegation.DecodeSingle(payload)
		if err != nil {
			return err
		}
		execs = []delegation.Execution{exec}
	case delegation.CallBatch:
		var err error
		execs, err = delegation.DecodeBatch(payload)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown call type %d", mode.Call)
	}

	for i, exec := range execs {
		if _, err := m.sink.Execute(ctx, onBehalfOf, exec); err != nil {
			if mode.Exec == delegation.ExecTry {
				m.log.Warn("execution failed in try mode",
					zap.Int("index", i),
					zap.String("target", exec.Target.Hex()),
					zap.Error(err))
				continue
			}
			return fmt.Errorf("execution %d: %w", i, err)
		}
	}
	return nil
}

// ── revocation ───────────────────────────────────────────────────────────────

func (m *Manager) disabledKey() string {
	return fmt.Sprintf(disabledSetKeyFmt, m.addr.Hex())
}

// DisableDelegation revokes a delegation by hash. Only the delegator may
// revoke; re-delegated children die with their parent through the authority
// check, without being disabled themselves.
func (m *Manager) DisableDelegation(ctx context.Context, requester common.Address, d *delegation.Delegation) error {
	if requester != d.Delegator {
		return fmt.Errorf("%w: %s", ErrNotDelegator, requester.Hex())
	}
	hash := d.Hash()
	m.log.Info("delegation disabled", zap.String("hash", hash.Hex()), zap.String("delegator", requester.Hex()))
	return m.rdb.SAdd(ctx, m.disabledKey(), hash.Hex()).Err()
}

// EnableDelegation lifts a revocation.
func (m *Manager) EnableDelegation(ctx context.Context, requester common.Address, d *delegation.Delegation) error {
	if requester != d.Delegator {
		return fmt.Errorf("%w: %s", ErrNotDelegator, requester.Hex())
	}
	hash := d.Hash()
	m.log.Info("delegation enabled", zap.String("hash", hash.Hex()), zap.String("delegator", requester.Hex()))
	return m.rdb.SRem(ctx, m.disabledKey(), hash.Hex()).Err()
}

func (m *Manager) IsDisabled(ctx context.Context, hash common.Hash) (bool, error) {
	return m.rdb.SIsMember(ctx, m.disabledKey(), hash.Hex()).Result()
}
