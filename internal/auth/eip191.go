// Package auth authenticates API callers by EIP-191 wallet signature. The
// recovered wallet address is what the handlers pass to the engine as the
// requester, so revocation stays delegator-only end to end.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const eip191Prefix = "\x19Ethereum Signed Message:\n"

// ErrInvalidSignatureLength is returned for signatures that are not the
// 65-byte R || S || V form.
var ErrInvalidSignatureLength = errors.New("invalid signature length")

// HashMessage returns keccak256(prefix + len(msg) + msg) per EIP-191.
func HashMessage(msg []byte) []byte {
	return crypto.Keccak256(
		[]byte(eip191Prefix),
		[]byte(strconv.Itoa(len(msg))),
		msg,
	)
}

// SignMessage signs the EIP-191 hash of msg. V is emitted as 27/28, the
// form wallets produce.
func SignMessage(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(HashMessage(msg), key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// Recover extracts the signer address from an EIP-191 signature over msg.
// V may be 0/1 or the wallet-style 27/28.
func Recover(msg []byte, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignatureLength
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(HashMessage(msg), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
