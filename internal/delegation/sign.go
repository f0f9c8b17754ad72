package delegation

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Sign signs the delegation in-place with the delegator's private key.
func Sign(d *Delegation, privKey *ecdsa.PrivateKey, dom Domain) error {
	digest := d.Digest(dom)
	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return err
	}
	// V as 27/28, matching the wallet convention
	sig[64] += 27
	d.Signature = sig
	return nil
}

// RecoverSigner recovers the address that signed the delegation.
func RecoverSigner(d *Delegation, dom Domain) (common.Address, error) {
	if len(d.Signature) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}
	digest := d.Digest(dom)
	sig := make([]byte, 65)
	copy(sig, d.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
