package enforcer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressOf derives the registry address for an enforcer name: the last 20
// bytes of keccak256(name). Caveats reference enforcers by this address.
func AddressOf(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(name))[12:])
}

// Registry resolves Caveat.Enforcer references to concrete implementations.
type Registry struct {
	byAddr map[common.Address]Enforcer
}

func NewRegistry() *Registry {
	return &Registry{byAddr: make(map[common.Address]Enforcer)}
}

func (r *Registry) Register(e Enforcer) common.Address {
	addr := AddressOf(e.Name())
	r.byAddr[addr] = e
	return addr
}

func (r *Registry) Resolve(addr common.Address) (Enforcer, error) {
	e, ok := r.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("unknown enforcer %s", addr.Hex())
	}
	return e, nil
}
