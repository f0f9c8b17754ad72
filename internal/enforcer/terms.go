package enforcer

import (
	"fmt"
	"math/big"

	"github.com/deleguard/deleguard/internal/delegation"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// newUint reads a big-endian unsigned integer slice from terms.
func newUint(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// checkedAdd adds two amounts under the 256-bit accumulator cap.
func checkedAdd(a, b *big.Int) (*big.Int, error) {
	sum := new(big.Int).Add(a, b)
	if sum.Cmp(maxUint256) > 0 {
		return nil, ErrAmountOverflow
	}
	return sum, nil
}

// checkedMul multiplies two amounts under the 256-bit cap.
func checkedMul(a, b *big.Int) (*big.Int, error) {
	prod := new(big.Int).Mul(a, b)
	if prod.Cmp(maxUint256) > 0 {
		return nil, ErrAmountOverflow
	}
	return prod, nil
}

func requireSingle(m delegation.Mode) error {
	if m.Call != delegation.CallSingle {
		return fmt.Errorf("%w: %s", ErrInvalidCallType, m.Call)
	}
	return nil
}

func requireBatch(m delegation.Mode) error {
	if m.Call != delegation.CallBatch {
		return fmt.Errorf("%w: %s", ErrInvalidCallType, m.Call)
	}
	return nil
}

func requireDefault(m delegation.Mode) error {
	if m.Exec != delegation.ExecDefault {
		return fmt.Errorf("%w: %s", ErrInvalidExecutionType, m.Exec)
	}
	return nil
}

// decodeSingle decodes a single execution after checking the call type.
func decodeSingle(m delegation.Mode, payload []byte) (delegation.Execution, error) {
	if err := requireSingle(m); err != nil {
		return delegation.Execution{}, err
	}
	return delegation.DecodeSingle(payload)
}

// decodeExecutions decodes the payload under either call type.
func decodeExecutions(m delegation.Mode, payload []byte) ([]delegation.Execution, error) {
	if m.Call == delegation.CallBatch {
		return delegation.DecodeBatch(payload)
	}
	e, err := delegation.DecodeSingle(payload)
	if err != nil {
		return nil, err
	}
	return []delegation.Execution{e}, nil
}
