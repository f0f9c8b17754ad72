package enforcer

import (
	"context"
	"errors"
	"testing"
)

func periodicTermsBytes(perPeriod, periodSec, start int64) []byte {
	terms := make([]byte, 0, 68)
	terms = append(terms, tokenA.Bytes()...)
	terms = append(terms, u256Bytes(perPeriod)...)
	terms = append(terms, u64Bytes(periodSec)...)
	return append(terms, u64Bytes(start)...)
}

func TestPeriodic_ClaimAndReset(t *testing.T) {
	e := NewPeriodicAllowance(newTestRedis(t))
	ctx := context.Background()

	// 50 per 100s period starting at t=1000.
	terms := periodicTermsBytes(50, 100, 1000)

	// Full claim at the start of the first period.
	e.Now = func() int64 { return 1000 }
	req := request(singleDefault, transferExec(tokenA, recipient, 50))
	req.Terms = terms
	if err := e.BeforeHook(ctx, req); err != nil {
		t.Fatalf("claim at start: %v", err)
	}

	// Any further claim in the same period fails.
	e.Now = func() int64 { return 1099 }
	req = request(singleDefault, transferExec(tokenA, recipient, 1))
	req.Terms = terms
	if err := e.BeforeHook(ctx, req); !errors.Is(err, ErrClaimAmountExceeded) {
		t.Fatalf("same period: got %v want ErrClaimAmountExceeded", err)
	}

	// New period: the claimed amount resets.
	e.Now = func() int64 { return 1100 }
	req = request(singleDefault, transferExec(tokenA, recipient, 50))
	req.Terms = terms
	if err := e.BeforeHook(ctx, req); err != nil {
		t.Fatalf("claim in new period: %v", err)
	}
}

func TestPeriodic_PartialClaims(t *testing.T) {
	e := NewPeriodicAllowance(newTestRedis(t))
	e.Now = func() int64 { return 2000 }
	ctx := context.Background()
	terms := periodicTermsBytes(50, 100, 1000)

	for i, amount := range []int64{20, 30} {
		req := request(singleDefault, transferExec(tokenA, recipient, amount))
		req.Terms = terms
		if err := e.BeforeHook(ctx, req); err != nil {
			t.Fatalf("partial claim %d: %v", i, err)
		}
	}
	req := request(singleDefault, transferExec(tokenA, recipient, 1))
	req.Terms = terms
	if err := e.BeforeHook(ctx, req); !errors.Is(err, ErrClaimAmountExceeded) {
		t.Fatalf("got %v want ErrClaimAmountExceeded", err)
	}
}

func TestPeriodic_NotStarted(t *testing.T) {
	e := NewPeriodicAllowance(newTestRedis(t))
	e.Now = func() int64 { return 999 }

	req := request(singleDefault, transferExec(tokenA, recipient, 1))
	req.Terms = periodicTermsBytes(50, 100, 1000)
	if err := e.BeforeHook(context.Background(), req); !errors.Is(err, ErrClaimNotStarted) {
		t.Fatalf("got %v want ErrClaimNotStarted", err)
	}
}

func TestPeriodic_BadTerms(t *testing.T) {
	e := NewPeriodicAllowance(newTestRedis(t))
	e.Now = func() int64 { return 2000 }
	ctx := context.Background()
	req := request(singleDefault, transferExec(tokenA, recipient, 1))

	for name, terms := range map[string][]byte{
		"zero amount":   periodicTermsBytes(0, 100, 1000),
		"zero period":   periodicTermsBytes(50, 0, 1000),
		"zero start":    periodicTermsBytes(50, 100, 0),
		"short terms":   periodicTermsBytes(50, 100, 1000)[:67],
		"long terms":    append(periodicTermsBytes(50, 100, 1000), 0x00),
	} {
		req.Terms = terms
		if err := e.BeforeHook(ctx, req); !errors.Is(err, ErrInvalidTermsLength) {
			t.Errorf("%s: got %v want ErrInvalidTermsLength", name, err)
		}
	}
}
