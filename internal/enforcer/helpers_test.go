package enforcer

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/deleguard/deleguard/internal/delegation"
	"github.com/deleguard/deleguard/internal/ledger"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000de1e6")
	redeemer   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	delegator  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	recipient  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	tokenA     = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB     = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	hashOne = common.HexToHash("0x0101010101010101010101010101010101010101010101010101010101010101")
	hashTwo = common.HexToHash("0x0202020202020202020202020202020202020202020202020202020202020202")

	singleDefault = delegation.Mode{Call: delegation.CallSingle, Exec: delegation.ExecDefault}
	singleTry     = delegation.Mode{Call: delegation.CallSingle, Exec: delegation.ExecTry}
	batchDefault  = delegation.Mode{Call: delegation.CallBatch, Exec: delegation.ExecDefault}
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestLedger(t *testing.T) (*redis.Client, *ledger.Redis) {
	t.Helper()
	rdb := newTestRedis(t)
	return rdb, ledger.NewRedis(rdb)
}

// request builds a single-mode HookRequest around one execution.
func request(mode delegation.Mode, exec delegation.Execution) *HookRequest {
	return &HookRequest{
		Caller:         engineAddr,
		Redeemer:       redeemer,
		Delegator:      delegator,
		DelegationHash: hashOne,
		Mode:           mode,
		Payload:        delegation.EncodeSingle(exec),
	}
}

func transferExec(asset, to common.Address, amount int64) delegation.Execution {
	return delegation.Execution{
		Target:  asset,
		Value:   new(big.Int),
		Payload: ledger.EncodeTransfer(to, big.NewInt(amount)),
	}
}

func u256Bytes(v int64) []byte {
	out := make([]byte, 32)
	big.NewInt(v).FillBytes(out)
	return out
}

func u64Bytes(v int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v))
	return out
}

func balanceTermsBytes(dir byte, asset, recip common.Address, amount int64) []byte {
	terms := make([]byte, 0, 73)
	terms = append(terms, dir)
	terms = append(terms, asset.Bytes()...)
	terms = append(terms, recip.Bytes()...)
	return append(terms, u256Bytes(amount)...)
}
