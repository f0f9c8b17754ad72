package engine

import (
	"fmt"

	"github.com/deleguard/deleguard/internal/delegation"
)

// SignatureVerifier checks that a delegation was authorized by its delegator.
type SignatureVerifier interface {
	Verify(d *delegation.Delegation) error
}

// ECDSAVerifier recovers the secp256k1 signer of the typed digest and
// requires it to equal the delegator.
type ECDSAVerifier struct {
	Domain delegation.Domain
}

func (v ECDSAVerifier) Verify(d *delegation.Delegation) error {
	if len(d.Signature) == 0 {
		return ErrEmptySignature
	}
	signer, err := delegation.RecoverSigner(d, v.Domain)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != d.Delegator {
		return fmt.Errorf("%w: recovered %s, delegator is %s", ErrInvalidSignature, signer.Hex(), d.Delegator.Hex())
	}
	return nil
}
