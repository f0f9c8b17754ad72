// Package ledger is the balance collaborator observed by enforcers and
// driven by executions. Assets and principals are both 20-byte addresses;
// the zero-address BaseAsset carries execution value transfers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNegativeAmount    = errors.New("negative amount")
)

// BaseAsset is the asset moved by Execution.Value.
var BaseAsset = common.Address{}

type Ledger interface {
	BalanceOf(ctx context.Context, asset, principal common.Address) (*big.Int, error)
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error
	// Mint credits a balance out of thin air. Admin/test funding only.
	Mint(ctx context.Context, asset, to common.Address, amount *big.Int) error
}

// TransferSelector tags the canonical asset-transfer payload.
var TransferSelector = [4]byte(crypto.Keccak256([]byte("transfer(address,uint256)"))[:4])

const transferPayloadLen = 4 + 32 + 32

// EncodeTransfer builds the canonical transfer payload understood by asset
// targets: selector(4) || to(32, right-aligned) || amount(32).
func EncodeTransfer(to common.Address, amount *big.Int) []byte {
	out := make([]byte, transferPayloadLen)
	copy(out[0:4], TransferSelector[:])
	copy(out[16:36], to.Bytes())
	amount.FillBytes(out[36:68])
	return out
}

// DecodeTransfer parses a canonical transfer payload. The length and
// selector are strict.
func DecodeTransfer(payload []byte) (to common.Address, amount *big.Int, err error) {
	if len(payload) != transferPayloadLen {
		return common.Address{}, nil, fmt.Errorf("transfer payload: %d bytes, want %d", len(payload), transferPayloadLen)
	}
	if [4]byte(payload[0:4]) != TransferSelector {
		return common.Address{}, nil, fmt.Errorf("transfer payload: unknown selector %x", payload[0:4])
	}
	return common.BytesToAddress(payload[16:36]), new(big.Int).SetBytes(payload[36:68]), nil
}
