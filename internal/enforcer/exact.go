package enforcer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/deleguard/deleguard/internal/delegation"
)

// ── exact-calldata ───────────────────────────────────────────────────────────

// ExactCalldata requires the execution payload to equal the signed terms
// byte for byte. Single call type only.
type ExactCalldata struct {
	Base
}

func NewExactCalldata() *ExactCalldata { return &ExactCalldata{} }

func (*ExactCalldata) Name() string { return "exact-calldata" }

func (e *ExactCalldata) BeforeHook(_ context.Context, req *HookRequest) error {
	exec, err := decodeSingle(req.Mode, req.Payload)
	if err != nil {
		return err
	}
	if !bytes.Equal(exec.Payload, req.Terms) {
		return fmt.Errorf("%w: calldata differs from terms", ErrInvalidExecution)
	}
	return nil
}

// ── exact-execution ──────────────────────────────────────────────────────────

// ExactExecution pins target, value, and payload to one signed execution.
// Terms: one encoded single execution.
type ExactExecution struct {
	Base
}

func NewExactExecution() *ExactExecution { return &ExactExecution{} }

func (*ExactExecution) Name() string { return "exact-execution" }

func executionsEqual(a, b delegation.Execution) bool {
	return a.Target == b.Target && a.Value.Cmp(b.Value) == 0 && bytes.Equal(a.Payload, b.Payload)
}

func (e *ExactExecution) BeforeHook(_ context.Context, req *HookRequest) error {
	want, err := delegation.DecodeSingle(req.Terms)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTermsLength, err)
	}
	exec, err := decodeSingle(req.Mode, req.Payload)
	if err != nil {
		return err
	}
	if !executionsEqual(exec, want) {
		return fmt.Errorf("%w: execution differs from terms", ErrInvalidExecution)
	}
	return nil
}

// ── exact-execution-batch ────────────────────────────────────────────────────

// ExactExecutionBatch pins an entire batch: exact length and per-element
// match. Terms: one encoded batch. Batch call type only.
type ExactExecutionBatch struct {
	Base
}

func NewExactExecutionBatch() *ExactExecutionBatch { return &ExactExecutionBatch{} }

func (*ExactExecutionBatch) Name() string { return "exact-execution-batch" }

func (e *ExactExecutionBatch) BeforeHook(_ context.Context, req *HookRequest) error {
	want, err := delegation.DecodeBatch(req.Terms)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTermsLength, err)
	}
	if err := requireBatch(req.Mode); err != nil {
		return err
	}
	got, err := delegation.DecodeBatch(req.Payload)
	if err != nil {
		return err
	}
	if len(got) != len(want) {
		return fmt.Errorf("%w: got %d executions, want %d", ErrInvalidBatchSize, len(got), len(want))
	}
	for i := range want {
		if !executionsEqual(got[i], want[i]) {
			return fmt.Errorf("%w: batch element %d differs from terms", ErrInvalidExecution, i)
		}
	}
	return nil
}

// ── args-equality ────────────────────────────────────────────────────────────

// ArgsEquality requires redemption-time args to equal the signed terms:
// the delegator pre-commits to a value the redeemer must echo back.
type ArgsEquality struct {
	Base
}

func NewArgsEquality() *ArgsEquality { return &ArgsEquality{} }

func (*ArgsEquality) Name() string { return "args-equality" }

func (e *ArgsEquality) BeforeHook(_ context.Context, req *HookRequest) error {
	if !bytes.Equal(req.Args, req.Terms) {
		return fmt.Errorf("%w: args differ from terms", ErrInvalidExecution)
	}
	return nil
}

// ── no-payload ───────────────────────────────────────────────────────────────

// NoPayload requires every execution in the (possibly batched) payload to
// carry an empty payload: pure value moves only. Terms must be empty.
type NoPayload struct {
	Base
}

func NewNoPayload() *NoPayload { return &NoPayload{} }

func (*NoPayload) Name() string { return "no-payload" }

func (e *NoPayload) BeforeHook(_ context.Context, req *HookRequest) error {
	if len(req.Terms) != 0 {
		return fmt.Errorf("%w: %d bytes, want 0", ErrInvalidTermsLength, len(req.Terms))
	}
	execs, err := decodeExecutions(req.Mode, req.Payload)
	if err != nil {
		return err
	}
	for i, ex := range execs {
		if len(ex.Payload) != 0 {
			return fmt.Errorf("%w: execution %d carries payload", ErrInvalidExecution, i)
		}
	}
	return nil
}

// ── value-cap ────────────────────────────────────────────────────────────────

// ValueCap bounds a single execution's value. Terms: max(32).
type ValueCap struct {
	Base
}

func NewValueCap() *ValueCap { return &ValueCap{} }

func (*ValueCap) Name() string { return "value-cap" }

func (e *ValueCap) BeforeHook(_ context.Context, req *HookRequest) error {
	if len(req.Terms) != 32 {
		return fmt.Errorf("%w: %d bytes, want 32", ErrInvalidTermsLength, len(req.Terms))
	}
	max := newUint(req.Terms)
	exec, err := decodeSingle(req.Mode, req.Payload)
	if err != nil {
		return err
	}
	if exec.Value.Cmp(max) > 0 {
		return fmt.Errorf("%w: value %s over cap %s", ErrInvalidExecution, exec.Value, max)
	}
	return nil
}
