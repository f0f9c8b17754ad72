package enforcer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/deleguard/deleguard/internal/delegation"
)

func TestLimitedCalls_CountsUpToLimit(t *testing.T) {
	rdb := newTestRedis(t)
	e := NewLimitedCalls(rdb)
	ctx := context.Background()

	req := request(singleDefault, delegation.Execution{Target: tokenA, Value: new(big.Int)})
	req.Terms = u256Bytes(2)

	if err := e.BeforeHook(ctx, req); err != nil {
		t.Fatalf("call 1: %v", err)
	}
	if err := e.BeforeHook(ctx, req); err != nil {
		t.Fatalf("call 2: %v", err)
	}
	if err := e.BeforeHook(ctx, req); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("call 3: got %v want ErrLimitExceeded", err)
	}

	// Counter stays at the limit after a rejected call.
	key := fmt.Sprintf(callCountKeyFmt, engineAddr.Hex(), hashOne.Hex())
	count, err := readAmount(ctx, rdb, key)
	if err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if count.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("counter: got %s want 2", count)
	}
}

func TestLimitedCalls_LimitOfOne(t *testing.T) {
	rdb := newTestRedis(t)
	e := NewLimitedCalls(rdb)
	ctx := context.Background()

	req := request(singleDefault, delegation.Execution{Target: tokenA, Value: new(big.Int)})
	req.Terms = u256Bytes(1)

	if err := e.BeforeHook(ctx, req); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := e.BeforeHook(ctx, req); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("second call: got %v want ErrLimitExceeded", err)
	}
}

func TestLimitedCalls_KeyedPerDelegation(t *testing.T) {
	rdb := newTestRedis(t)
	e := NewLimitedCalls(rdb)
	ctx := context.Background()

	req := request(singleDefault, delegation.Execution{Target: tokenA, Value: new(big.Int)})
	req.Terms = u256Bytes(1)
	if err := e.BeforeHook(ctx, req); err != nil {
		t.Fatalf("first delegation: %v", err)
	}

	other := request(singleDefault, delegation.Execution{Target: tokenA, Value: new(big.Int)})
	other.Terms = u256Bytes(1)
	other.DelegationHash = hashTwo
	if err := e.BeforeHook(ctx, other); err != nil {
		t.Fatalf("unrelated delegation shares counter: %v", err)
	}
}

func TestLimitedCalls_BadTerms(t *testing.T) {
	e := NewLimitedCalls(newTestRedis(t))
	ctx := context.Background()

	req := request(singleDefault, delegation.Execution{Target: tokenA, Value: new(big.Int)})
	req.Terms = u256Bytes(0)
	if err := e.BeforeHook(ctx, req); !errors.Is(err, ErrInvalidTermsLength) {
		t.Fatalf("zero limit: got %v want ErrInvalidTermsLength", err)
	}

	req.Terms = u64Bytes(1)
	if err := e.BeforeHook(ctx, req); !errors.Is(err, ErrInvalidTermsLength) {
		t.Fatalf("short terms: got %v want ErrInvalidTermsLength", err)
	}
}

func TestLimitedCalls_TryRejected(t *testing.T) {
	e := NewLimitedCalls(newTestRedis(t))
	req := request(singleTry, delegation.Execution{Target: tokenA, Value: new(big.Int)})
	req.Terms = u256Bytes(1)
	if err := e.BeforeHook(context.Background(), req); !errors.Is(err, ErrInvalidExecutionType) {
		t.Fatalf("got %v want ErrInvalidExecutionType", err)
	}
}
