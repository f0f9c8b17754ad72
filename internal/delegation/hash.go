package delegation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	delegationTypeHash = crypto.Keccak256Hash([]byte(
		"Delegation(address delegate,address delegator,bytes32 authority,Caveat[] caveats,uint256 salt)Caveat(address enforcer,bytes terms)",
	))
	caveatTypeHash = crypto.Keccak256Hash([]byte(
		"Caveat(address enforcer,bytes terms)",
	))
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"Domain(string name,string version,address verifyingEngine)",
	))
)

// Domain binds delegation digests to one engine deployment so a delegation
// signed for one engine cannot be replayed against another.
type Domain struct {
	Name    string
	Version string
	Engine  common.Address
}

// Separator computes the domain separator hash.
func (d Domain) Separator() common.Hash {
	encoded := make([]byte, 4*32)
	copy(encoded[0:32], domainTypeHash[:])
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	copy(encoded[108:128], d.Engine.Bytes()) // addr right-aligned in 32-byte slot
	return crypto.Keccak256Hash(encoded)
}

// hashCaveat hashes one caveat. Args are redeemer-supplied and deliberately
// excluded: the signature must not cover them.
func hashCaveat(c Caveat) common.Hash {
	encoded := make([]byte, 3*32)
	copy(encoded[0:32], caveatTypeHash[:])
	copy(encoded[44:64], c.Enforcer.Bytes())
	termsHash := crypto.Keccak256Hash(c.Terms)
	copy(encoded[64:96], termsHash[:])
	return crypto.Keccak256Hash(encoded)
}

func hashCaveats(caveats []Caveat) common.Hash {
	encoded := make([]byte, 0, len(caveats)*32)
	for _, c := range caveats {
		h := hashCaveat(c)
		encoded = append(encoded, h[:]...)
	}
	return crypto.Keccak256Hash(encoded)
}

// Hash computes the struct hash of the delegation: the value used as a child
// delegation's authority and as enforcer state keys. Signature is excluded.
func (d *Delegation) Hash() common.Hash {
	encoded := make([]byte, 6*32)
	copy(encoded[0:32], delegationTypeHash[:])
	copy(encoded[44:64], d.Delegate.Bytes())
	copy(encoded[76:96], d.Delegator.Bytes())
	copy(encoded[96:128], d.Authority[:])
	caveatsHash := hashCaveats(d.Caveats)
	copy(encoded[128:160], caveatsHash[:])
	salt := d.Salt
	if salt == nil {
		salt = new(big.Int)
	}
	salt.FillBytes(encoded[160:192])
	return crypto.Keccak256Hash(encoded)
}

// Digest is the signable message: keccak256(0x1901 || separator || structHash).
func (d *Delegation) Digest(dom Domain) common.Hash {
	structHash := d.Hash()
	sep := dom.Separator()
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}
