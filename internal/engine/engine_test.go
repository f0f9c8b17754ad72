package engine

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deleguard/deleguard/internal/delegation"
	"github.com/deleguard/deleguard/internal/enforcer"
	"github.com/deleguard/deleguard/internal/ledger"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000de1e6")
	tokenA     = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB     = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	singleDefault = delegation.Mode{Call: delegation.CallSingle, Exec: delegation.ExecDefault}
	batchDefault  = delegation.Mode{Call: delegation.CallBatch, Exec: delegation.ExecDefault}
	batchTry      = delegation.Mode{Call: delegation.CallBatch, Exec: delegation.ExecTry}
)

func mustKey(t *testing.T, hexkey string) *ecdsa.PrivateKey {
	t.Helper()
	k, err := crypto.HexToECDSA(hexkey)
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	return k
}

type testEnv struct {
	rdb  *redis.Client
	led  *ledger.Redis
	reg  *enforcer.Registry
	disp *Dispatcher
	mgr  *Manager
	dom  delegation.Domain
	salt int64

	aliceKey *ecdsa.PrivateKey
	bobKey   *ecdsa.PrivateKey
	alice    common.Address
	bob      common.Address
	carol    common.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	led := ledger.NewRedis(rdb)

	disp := NewDispatcher(led)
	disp.RegisterToken(tokenA)
	disp.RegisterToken(tokenB)

	reg := enforcer.NewRegistry()
	reg.Register(enforcer.NewAllowedTargets())
	reg.Register(enforcer.NewAllowedRedeemers())
	reg.Register(enforcer.NewLimitedCalls(rdb))
	reg.Register(enforcer.NewTransferAmount(rdb))
	reg.Register(enforcer.NewBalanceChange(rdb, led))
	reg.Register(enforcer.NewMultiOpBalanceChange(rdb, led))
	reg.Register(enforcer.NewPayment(rdb, led))
	reg.Register(enforcer.NewSwapOffer(rdb, led))

	dom := delegation.Domain{Name: "Deleguard", Version: "1", Engine: engineAddr}
	mgr := NewManager(engineAddr, reg, disp, rdb, ECDSAVerifier{Domain: dom}, zap.NewNop())

	env := &testEnv{
		rdb: rdb, led: led, reg: reg, disp: disp, mgr: mgr, dom: dom,
		aliceKey: mustKey(t, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"),
		bobKey:   mustKey(t, "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"),
		carol:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
	}
	env.alice = crypto.PubkeyToAddress(env.aliceKey.PublicKey)
	env.bob = crypto.PubkeyToAddress(env.bobKey.PublicKey)
	return env
}

func (env *testEnv) delegate(t *testing.T, key *ecdsa.PrivateKey, delegate common.Address, authority common.Hash, caveats ...delegation.Caveat) delegation.Delegation {
	t.Helper()
	env.salt++
	d := delegation.Delegation{
		Delegate:  delegate,
		Delegator: crypto.PubkeyToAddress(key.PublicKey),
		Authority: authority,
		Caveats:   caveats,
		Salt:      big.NewInt(env.salt),
	}
	if err := delegation.Sign(&d, key, env.dom); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return d
}

func (env *testEnv) mint(t *testing.T, asset, to common.Address, amount int64) {
	t.Helper()
	if err := env.led.Mint(context.Background(), asset, to, big.NewInt(amount)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
}

func (env *testEnv) balance(t *testing.T, asset, who common.Address) int64 {
	t.Helper()
	bal, err := env.led.BalanceOf(context.Background(), asset, who)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	return bal.Int64()
}

func transferPayload(asset, to common.Address, amount int64) []byte {
	return delegation.EncodeSingle(delegation.Execution{
		Target:  asset,
		Value:   new(big.Int),
		Payload: ledger.EncodeTransfer(to, big.NewInt(amount)),
	})
}

func u256Bytes(v int64) []byte {
	out := make([]byte, 32)
	big.NewInt(v).FillBytes(out)
	return out
}

func balanceTerms(dir byte, asset, recip common.Address, amount int64) []byte {
	terms := make([]byte, 0, 73)
	terms = append(terms, dir)
	terms = append(terms, asset.Bytes()...)
	terms = append(terms, recip.Bytes()...)
	return append(terms, u256Bytes(amount)...)
}

// ── redemption ───────────────────────────────────────────────────────────────

func TestRedeem_SingleHopTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 100)

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority,
		delegation.Caveat{Enforcer: enforcer.AddressOf("allowed-targets"), Terms: tokenA.Bytes()})

	err := env.mgr.RedeemDelegations(ctx, env.bob,
		[][]delegation.Delegation{{d}},
		[]delegation.Mode{singleDefault},
		[][]byte{transferPayload(tokenA, env.carol, 40)})
	if err != nil {
		t.Fatalf("RedeemDelegations: %v", err)
	}
	if got := env.balance(t, tokenA, env.alice); got != 60 {
		t.Errorf("alice balance = %d, want 60", got)
	}
	if got := env.balance(t, tokenA, env.carol); got != 40 {
		t.Errorf("carol balance = %d, want 40", got)
	}
}

func TestRedeem_TwoHopChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 50)

	root := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority)
	leaf := env.delegate(t, env.bobKey, env.carol, root.Hash())

	err := env.mgr.RedeemDelegations(ctx, env.carol,
		[][]delegation.Delegation{{leaf, root}},
		[]delegation.Mode{singleDefault},
		[][]byte{transferPayload(tokenA, env.carol, 50)})
	if err != nil {
		t.Fatalf("RedeemDelegations: %v", err)
	}
	// Executions act on behalf of the root delegator.
	if got := env.balance(t, tokenA, env.alice); got != 0 {
		t.Errorf("alice balance = %d, want 0", got)
	}
	if got := env.balance(t, tokenA, env.carol); got != 50 {
		t.Errorf("carol balance = %d, want 50", got)
	}
}

func TestRedeem_SelfExecution(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, tokenA, env.bob, 10)

	err := env.mgr.RedeemDelegations(context.Background(), env.bob,
		[][]delegation.Delegation{nil},
		[]delegation.Mode{singleDefault},
		[][]byte{transferPayload(tokenA, env.carol, 10)})
	if err != nil {
		t.Fatalf("RedeemDelegations: %v", err)
	}
	if got := env.balance(t, tokenA, env.carol); got != 10 {
		t.Errorf("carol balance = %d, want 10", got)
	}
}

func TestRedeem_LengthMismatch(t *testing.T) {
	env := newTestEnv(t)
	err := env.mgr.RedeemDelegations(context.Background(), env.bob,
		[][]delegation.Delegation{nil},
		[]delegation.Mode{singleDefault, singleDefault},
		[][]byte{transferPayload(tokenA, env.carol, 1)})
	if !errors.Is(err, ErrBatchLengthMismatch) {
		t.Fatalf("got %v want ErrBatchLengthMismatch", err)
	}
}

func TestRedeem_ChainValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payloads := [][]byte{transferPayload(tokenA, env.carol, 1)}
	modes := []delegation.Mode{singleDefault}

	redeem := func(redeemer common.Address, chain []delegation.Delegation) error {
		return env.mgr.RedeemDelegations(ctx, redeemer, [][]delegation.Delegation{chain}, modes, payloads)
	}

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority)
	if err := redeem(env.carol, []delegation.Delegation{d}); !errors.Is(err, ErrInvalidDelegate) {
		t.Errorf("wrong redeemer: got %v want ErrInvalidDelegate", err)
	}

	unsigned := d
	unsigned.Signature = nil
	if err := redeem(env.bob, []delegation.Delegation{unsigned}); !errors.Is(err, ErrEmptySignature) {
		t.Errorf("no signature: got %v want ErrEmptySignature", err)
	}

	// Tampering after signing shifts the digest, so recovery mismatches.
	tampered := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority)
	tampered.Salt = big.NewInt(9999)
	if err := redeem(env.bob, []delegation.Delegation{tampered}); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered: got %v want ErrInvalidSignature", err)
	}

	// Signed by someone other than the claimed delegator.
	forged := delegation.Delegation{
		Delegate:  env.bob,
		Delegator: env.alice,
		Authority: delegation.RootAuthority,
		Salt:      big.NewInt(1),
	}
	if err := delegation.Sign(&forged, env.bobKey, env.dom); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := redeem(env.bob, []delegation.Delegation{forged}); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("forged: got %v want ErrInvalidSignature", err)
	}

	nonRoot := env.delegate(t, env.aliceKey, env.bob, common.HexToHash("0xdead"))
	if err := redeem(env.bob, []delegation.Delegation{nonRoot}); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("non-root terminal: got %v want ErrBrokenChain", err)
	}

	// Leaf authority pointing at the wrong parent.
	root := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority)
	other := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority)
	leaf := env.delegate(t, env.bobKey, env.carol, other.Hash())
	if err := redeem(env.carol, []delegation.Delegation{leaf, root}); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("authority mismatch: got %v want ErrBrokenChain", err)
	}

	// Delegator of the leaf is not the parent's delegate.
	strayLeaf := env.delegate(t, env.aliceKey, env.carol, root.Hash())
	if err := redeem(env.carol, []delegation.Delegation{strayLeaf, root}); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("delegator mismatch: got %v want ErrBrokenChain", err)
	}
}

func TestRedeem_UnknownEnforcer(t *testing.T) {
	env := newTestEnv(t)
	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority,
		delegation.Caveat{Enforcer: enforcer.AddressOf("never-registered")})
	err := env.mgr.RedeemDelegations(context.Background(), env.bob,
		[][]delegation.Delegation{{d}},
		[]delegation.Mode{singleDefault},
		[][]byte{transferPayload(tokenA, env.carol, 1)})
	if err == nil || !strings.Contains(err.Error(), "unknown enforcer") {
		t.Fatalf("got %v want unknown enforcer error", err)
	}
}

func TestRedeem_CaveatRejection(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, tokenA, env.alice, 10)
	env.mint(t, tokenB, env.alice, 10)

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority,
		delegation.Caveat{Enforcer: enforcer.AddressOf("allowed-targets"), Terms: tokenA.Bytes()})
	err := env.mgr.RedeemDelegations(context.Background(), env.bob,
		[][]delegation.Delegation{{d}},
		[]delegation.Mode{singleDefault},
		[][]byte{transferPayload(tokenB, env.carol, 1)})
	if !errors.Is(err, enforcer.ErrUnauthorizedTarget) {
		t.Fatalf("got %v want ErrUnauthorizedTarget", err)
	}
	if got := env.balance(t, tokenB, env.alice); got != 10 {
		t.Errorf("alice tokenB balance = %d, want 10 (untouched)", got)
	}
}

func TestRedeem_CallLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 10)

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority,
		delegation.Caveat{Enforcer: enforcer.AddressOf("limited-calls"), Terms: u256Bytes(1)})
	redeem := func() error {
		return env.mgr.RedeemDelegations(ctx, env.bob,
			[][]delegation.Delegation{{d}},
			[]delegation.Mode{singleDefault},
			[][]byte{transferPayload(tokenA, env.carol, 1)})
	}
	if err := redeem(); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if err := redeem(); !errors.Is(err, enforcer.ErrLimitExceeded) {
		t.Fatalf("second redemption: got %v want ErrLimitExceeded", err)
	}
}

func TestRedeem_TryMode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.bob, 5)

	// First transfer overdraws, second is fine.
	payload := delegation.EncodeBatch([]delegation.Execution{
		{Target: tokenA, Value: new(big.Int), Payload: ledger.EncodeTransfer(env.carol, big.NewInt(100))},
		{Target: tokenA, Value: new(big.Int), Payload: ledger.EncodeTransfer(env.carol, big.NewInt(3))},
	})

	err := env.mgr.RedeemDelegations(ctx, env.bob,
		[][]delegation.Delegation{nil},
		[]delegation.Mode{batchDefault},
		[][]byte{payload})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("default mode: got %v want ErrInsufficientFunds", err)
	}

	err = env.mgr.RedeemDelegations(ctx, env.bob,
		[][]delegation.Delegation{nil},
		[]delegation.Mode{batchTry},
		[][]byte{payload})
	if err != nil {
		t.Fatalf("try mode: %v", err)
	}
	if got := env.balance(t, tokenA, env.carol); got != 3 {
		t.Errorf("carol balance = %d, want 3", got)
	}
}

// ── revocation ───────────────────────────────────────────────────────────────

func TestRevocation_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 10)

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority)
	redeem := func() error {
		return env.mgr.RedeemDelegations(ctx, env.bob,
			[][]delegation.Delegation{{d}},
			[]delegation.Mode{singleDefault},
			[][]byte{transferPayload(tokenA, env.carol, 1)})
	}

	if err := env.mgr.DisableDelegation(ctx, env.bob, &d); !errors.Is(err, ErrNotDelegator) {
		t.Fatalf("disable by delegate: got %v want ErrNotDelegator", err)
	}
	if err := env.mgr.DisableDelegation(ctx, env.alice, &d); err != nil {
		t.Fatalf("DisableDelegation: %v", err)
	}
	if err := redeem(); !errors.Is(err, ErrDelegationDisabled) {
		t.Fatalf("redeem disabled: got %v want ErrDelegationDisabled", err)
	}
	if err := env.mgr.EnableDelegation(ctx, env.alice, &d); err != nil {
		t.Fatalf("EnableDelegation: %v", err)
	}
	if err := redeem(); err != nil {
		t.Fatalf("redeem after enable: %v", err)
	}
}

// A disabled parent kills the whole chain, including children that were
// never disabled themselves.
func TestRevocation_ParentDisablesChild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 10)

	root := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority)
	leaf := env.delegate(t, env.bobKey, env.carol, root.Hash())

	if err := env.mgr.DisableDelegation(ctx, env.alice, &root); err != nil {
		t.Fatalf("DisableDelegation: %v", err)
	}
	err := env.mgr.RedeemDelegations(ctx, env.carol,
		[][]delegation.Delegation{{leaf, root}},
		[]delegation.Mode{singleDefault},
		[][]byte{transferPayload(tokenA, env.carol, 1)})
	if !errors.Is(err, ErrDelegationDisabled) {
		t.Fatalf("got %v want ErrDelegationDisabled", err)
	}
}

// ── cross-context aggregation ────────────────────────────────────────────────

func multiOpCaveat(asset, recip common.Address, amount int64) delegation.Caveat {
	return delegation.Caveat{
		Enforcer: enforcer.AddressOf("multiop-balance-change"),
		Terms:    balanceTerms(0x00, asset, recip, amount),
	}
}

// A pull of tokenA conditioned on alice receiving tokenB, paid by a sibling
// self-execution context in the same redemption call.
func TestRedeem_PaymentInSiblingContext(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 10)
	env.mint(t, tokenB, env.bob, 10)

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority, multiOpCaveat(tokenB, env.alice, 2))
	redeem := func(paid int64) error {
		return env.mgr.RedeemDelegations(ctx, env.bob,
			[][]delegation.Delegation{{d}, nil},
			[]delegation.Mode{singleDefault, singleDefault},
			[][]byte{
				transferPayload(tokenA, env.bob, 5),
				transferPayload(tokenB, env.alice, paid),
			})
	}

	if err := redeem(1); !errors.Is(err, enforcer.ErrInsufficientBalanceChange) {
		t.Fatalf("underpaid: got %v want ErrInsufficientBalanceChange", err)
	}
	if err := redeem(2); err != nil {
		t.Fatalf("paid in full: %v", err)
	}
	if got := env.balance(t, tokenA, env.bob); got != 10 {
		t.Errorf("bob tokenA = %d, want 10 (two pulls of 5)", got)
	}
	if got := env.balance(t, tokenB, env.alice); got != 3 {
		t.Errorf("alice tokenB = %d, want 3 (1 + 2)", got)
	}
}

// Two sibling delegations each demanding ≥1 share one aggregate tracker, so
// a single payment of 2 covers both but 1 total does not.
func TestRedeem_AggregatedSiblingDemands(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 10)
	env.mint(t, tokenB, env.bob, 10)

	d1 := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority, multiOpCaveat(tokenB, env.alice, 1))
	d2 := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority, multiOpCaveat(tokenB, env.alice, 1))
	redeem := func(paid int64) error {
		return env.mgr.RedeemDelegations(ctx, env.bob,
			[][]delegation.Delegation{{d1}, {d2}, nil},
			[]delegation.Mode{singleDefault, singleDefault, singleDefault},
			[][]byte{
				transferPayload(tokenA, env.bob, 1),
				transferPayload(tokenA, env.bob, 1),
				transferPayload(tokenB, env.alice, paid),
			})
	}

	if err := redeem(1); !errors.Is(err, enforcer.ErrInsufficientBalanceChange) {
		t.Fatalf("paid 1 of 2: got %v want ErrInsufficientBalanceChange", err)
	}
	if err := redeem(2); err != nil {
		t.Fatalf("paid 2 of 2: %v", err)
	}
}

// ── failure-path state hygiene ───────────────────────────────────────────────

func transferCapCaveat(asset common.Address, max int64) delegation.Caveat {
	return delegation.Caveat{
		Enforcer: enforcer.AddressOf("transfer-amount"),
		Terms:    append(asset.Bytes(), u256Bytes(max)...),
	}
}

// An execution failure between the before and after hooks must release the
// balance tracker, or the (caller, asset, recipient) key stays locked for
// every future redemption.
func TestFailedRedemption_ReleasesBalanceTracker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority,
		delegation.Caveat{Enforcer: enforcer.AddressOf("balance-change"), Terms: balanceTerms(0x00, tokenA, env.carol, 5)})
	redeem := func() error {
		return env.mgr.RedeemDelegations(ctx, env.bob,
			[][]delegation.Delegation{{d}},
			[]delegation.Mode{singleDefault},
			[][]byte{transferPayload(tokenA, env.carol, 5)})
	}

	// Unfunded: the execution fails after the tracker was locked.
	if err := redeem(); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("unfunded: got %v want ErrInsufficientFunds", err)
	}

	env.mint(t, tokenA, env.alice, 10)
	if err := redeem(); err != nil {
		t.Fatalf("after funding: %v", err)
	}
	if got := env.balance(t, tokenA, env.carol); got != 5 {
		t.Errorf("carol balance = %d, want 5", got)
	}
}

// A call charged for an execution that never ran must be refunded on abort;
// a call whose execution did run stays charged.
func TestFailedRedemption_RestoresCallCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority,
		delegation.Caveat{Enforcer: enforcer.AddressOf("limited-calls"), Terms: u256Bytes(1)})
	redeem := func() error {
		return env.mgr.RedeemDelegations(ctx, env.bob,
			[][]delegation.Delegation{{d}},
			[]delegation.Mode{singleDefault},
			[][]byte{transferPayload(tokenA, env.carol, 1)})
	}

	if err := redeem(); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("unfunded: got %v want ErrInsufficientFunds", err)
	}

	env.mint(t, tokenA, env.alice, 10)
	if err := redeem(); err != nil {
		t.Fatalf("after funding: %v", err)
	}
	if err := redeem(); !errors.Is(err, enforcer.ErrLimitExceeded) {
		t.Fatalf("third attempt: got %v want ErrLimitExceeded", err)
	}
}

// An abort after the aggregate tracker was written must clear it; a stale
// pending counter would make the next shortfall validate against nothing.
func TestFailedRedemption_ClearsAggregateTracker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 20)
	env.mint(t, tokenB, env.bob, 10)

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority, multiOpCaveat(tokenB, env.alice, 2))
	redeem := func(paid int64) error {
		return env.mgr.RedeemDelegations(ctx, env.bob,
			[][]delegation.Delegation{{d}, nil},
			[]delegation.Mode{singleDefault, singleDefault},
			[][]byte{
				transferPayload(tokenA, env.bob, 5),
				transferPayload(tokenB, env.alice, paid),
			})
	}

	// The paying context overdraws, aborting after the tracker was written.
	if err := redeem(100); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("overdraw: got %v want ErrInsufficientFunds", err)
	}
	if err := redeem(1); !errors.Is(err, enforcer.ErrInsufficientBalanceChange) {
		t.Fatalf("underpaid: got %v want ErrInsufficientBalanceChange", err)
	}
	if err := redeem(2); err != nil {
		t.Fatalf("paid in full: %v", err)
	}
}

// An allowance charged in a before hook is rolled back when the execution
// fails, leaving the full cap for later redemptions.
func TestFailedRedemption_RestoresAllowance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority, transferCapCaveat(tokenA, 10))
	redeem := func(amount int64) error {
		return env.mgr.RedeemDelegations(ctx, env.bob,
			[][]delegation.Delegation{{d}},
			[]delegation.Mode{singleDefault},
			[][]byte{transferPayload(tokenA, env.carol, amount)})
	}

	if err := redeem(6); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("unfunded: got %v want ErrInsufficientFunds", err)
	}

	env.mint(t, tokenA, env.alice, 10)
	if err := redeem(10); err != nil {
		t.Fatalf("full cap after failed attempt: %v", err)
	}
	if err := redeem(1); !errors.Is(err, enforcer.ErrAllowanceExceeded) {
		t.Fatalf("over cap: got %v want ErrAllowanceExceeded", err)
	}
}

// When a later context aborts the batch, charges for contexts that already
// executed stay spent: their transfers are applied and not compensated.
func TestAbortedBatch_KeepsExecutedSpend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 20)

	d := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority, transferCapCaveat(tokenA, 10))
	err := env.mgr.RedeemDelegations(ctx, env.bob,
		[][]delegation.Delegation{{d}, {d}},
		[]delegation.Mode{singleDefault, singleDefault},
		[][]byte{
			transferPayload(tokenA, env.carol, 6),
			transferPayload(tokenA, env.carol, 6),
		})
	if !errors.Is(err, enforcer.ErrAllowanceExceeded) {
		t.Fatalf("got %v want ErrAllowanceExceeded", err)
	}
	if got := env.balance(t, tokenA, env.carol); got != 6 {
		t.Errorf("carol balance = %d, want 6 (first context applied)", got)
	}

	// Only the unspent remainder of the cap is left.
	redeem := func(amount int64) error {
		return env.mgr.RedeemDelegations(ctx, env.bob,
			[][]delegation.Delegation{{d}},
			[]delegation.Mode{singleDefault},
			[][]byte{transferPayload(tokenA, env.carol, amount)})
	}
	if err := redeem(4); err != nil {
		t.Fatalf("remainder: %v", err)
	}
	if err := redeem(1); !errors.Is(err, enforcer.ErrAllowanceExceeded) {
		t.Fatalf("exhausted cap: got %v want ErrAllowanceExceeded", err)
	}
}

// ── nested redemption ────────────────────────────────────────────────────────

// Payment enforcer composition: bob redeems alice's delegation, and the
// caveat redeems bob's own nested payment delegation to settle the price.
func TestRedeem_NestedPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 40)
	env.mint(t, tokenB, env.bob, 5)

	paymentAddr := enforcer.AddressOf("payment")
	nested := env.delegate(t, env.bobKey, paymentAddr, delegation.RootAuthority,
		delegation.Caveat{Enforcer: enforcer.AddressOf("allowed-targets"), Terms: tokenB.Bytes()})
	nestedJSON, err := json.Marshal([]delegation.Delegation{nested})
	if err != nil {
		t.Fatalf("marshal chain: %v", err)
	}

	terms := make([]byte, 0, 72)
	terms = append(terms, tokenB.Bytes()...)
	terms = append(terms, env.alice.Bytes()...)
	terms = append(terms, u256Bytes(5)...)

	outer := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority,
		delegation.Caveat{Enforcer: paymentAddr, Terms: terms, Args: nestedJSON})

	err = env.mgr.RedeemDelegations(ctx, env.bob,
		[][]delegation.Delegation{{outer}},
		[]delegation.Mode{singleDefault},
		[][]byte{transferPayload(tokenA, env.bob, 40)})
	if err != nil {
		t.Fatalf("RedeemDelegations: %v", err)
	}
	if got := env.balance(t, tokenA, env.bob); got != 40 {
		t.Errorf("bob tokenA = %d, want 40", got)
	}
	if got := env.balance(t, tokenB, env.alice); got != 5 {
		t.Errorf("alice tokenB = %d, want 5", got)
	}
	if got := env.balance(t, tokenB, env.bob); got != 0 {
		t.Errorf("bob tokenB = %d, want 0", got)
	}
}

// Without funds behind the nested payment chain, the whole redemption fails
// before the outer transfer is considered settled.
func TestRedeem_NestedPaymentUnfunded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mint(t, tokenA, env.alice, 40)

	paymentAddr := enforcer.AddressOf("payment")
	nested := env.delegate(t, env.bobKey, paymentAddr, delegation.RootAuthority)
	nestedJSON, err := json.Marshal([]delegation.Delegation{nested})
	if err != nil {
		t.Fatalf("marshal chain: %v", err)
	}

	terms := make([]byte, 0, 72)
	terms = append(terms, tokenB.Bytes()...)
	terms = append(terms, env.alice.Bytes()...)
	terms = append(terms, u256Bytes(5)...)

	outer := env.delegate(t, env.aliceKey, env.bob, delegation.RootAuthority,
		delegation.Caveat{Enforcer: paymentAddr, Terms: terms, Args: nestedJSON})

	err = env.mgr.RedeemDelegations(ctx, env.bob,
		[][]delegation.Delegation{{outer}},
		[]delegation.Mode{singleDefault},
		[][]byte{transferPayload(tokenA, env.bob, 40)})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("got %v want ErrInsufficientFunds", err)
	}
}
