// cmd/delegate/main.go — builds, signs, and prints a delegation as JSON.
//
// Usage examples:
//
//	# root delegation with a target allowlist caveat
//	go run ./cmd/delegate/ --key <hex> --delegate 0x... \
//	  --caveat allowed-targets:0xaaaa...aaaa
//
//	# re-delegation chained under a parent hash
//	go run ./cmd/delegate/ --key <hex> --delegate 0x... --authority 0x<parent-hash>
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/deleguard/deleguard/internal/delegation"
	"github.com/deleguard/deleguard/internal/enforcer"
)

func main() {
	keyHex := flag.String("key", "", "delegator private key hex (required)")
	delegateHex := flag.String("delegate", "", "delegate address (required)")
	authorityHex := flag.String("authority", "", "parent delegation hash; empty for a root delegation")
	salt := flag.Int64("salt", 0, "salt distinguishing otherwise identical delegations")
	engineHex := flag.String("engine", "", "engine address for the signing domain (required)")
	domName := flag.String("domain-name", "Deleguard", "signing domain name")
	domVersion := flag.String("domain-version", "1", "signing domain version")
	hashOnly := flag.Bool("hash-only", false, "print only the delegation hash")

	var caveats []delegation.Caveat
	flag.Func("caveat", "caveat as <enforcer-name>:<terms-hex>, repeatable", func(s string) error {
		name, termsHex, ok := strings.Cut(s, ":")
		if !ok {
			return fmt.Errorf("want <name>:<terms-hex>, got %q", s)
		}
		terms, err := hex.DecodeString(strings.TrimPrefix(termsHex, "0x"))
		if err != nil {
			return fmt.Errorf("terms hex: %w", err)
		}
		caveats = append(caveats, delegation.Caveat{
			Enforcer: enforcer.AddressOf(name),
			Terms:    terms,
		})
		return nil
	})
	flag.Parse()

	if *keyHex == "" || *delegateHex == "" || *engineHex == "" {
		fmt.Fprintln(os.Stderr, "error: --key, --delegate and --engine are required")
		os.Exit(1)
	}
	if !common.IsHexAddress(*delegateHex) || !common.IsHexAddress(*engineHex) {
		fmt.Fprintln(os.Stderr, "error: invalid address")
		os.Exit(1)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(*keyHex, "0x"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse key: %v\n", err)
		os.Exit(1)
	}

	authority := delegation.RootAuthority
	if *authorityHex != "" {
		authority = common.HexToHash(*authorityHex)
	}

	d := delegation.Delegation{
		Delegate:  common.HexToAddress(*delegateHex),
		Delegator: crypto.PubkeyToAddress(key.PublicKey),
		Authority: authority,
		Caveats:   caveats,
		Salt:      big.NewInt(*salt),
	}
	dom := delegation.Domain{
		Name:    *domName,
		Version: *domVersion,
		Engine:  common.HexToAddress(*engineHex),
	}
	if err := delegation.Sign(&d, key, dom); err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}

	if *hashOnly {
		fmt.Println(d.Hash().Hex())
		return
	}

	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
	fmt.Fprintf(os.Stderr, "hash: %s\n", d.Hash().Hex())
}
