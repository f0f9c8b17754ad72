package delegation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Execution payloads use a flat positional layout, decoded strictly: any
// missing or trailing bytes are an error.
//
//	single:  target(20) || value(32) || payload(rest)
//	batch:   count(2)   || count × ( target(20) || value(32) || len(4) || payload )

var (
	ErrTruncatedPayload = errors.New("truncated execution payload")
	ErrTrailingBytes    = errors.New("trailing bytes in execution payload")
)

const singleHeaderLen = 20 + 32

// EncodeSingle encodes one execution.
func EncodeSingle(e Execution) []byte {
	out := make([]byte, singleHeaderLen, singleHeaderLen+len(e.Payload))
	copy(out[0:20], e.Target.Bytes())
	value := e.Value
	if value == nil {
		value = new(big.Int)
	}
	value.FillBytes(out[20:52])
	return append(out, e.Payload...)
}

// DecodeSingle decodes a single-execution payload.
func DecodeSingle(b []byte) (Execution, error) {
	if len(b) < singleHeaderLen {
		return Execution{}, fmt.Errorf("%w: %d bytes", ErrTruncatedPayload, len(b))
	}
	return Execution{
		Target:  common.BytesToAddress(b[0:20]),
		Value:   new(big.Int).SetBytes(b[20:52]),
		Payload: append([]byte(nil), b[52:]...),
	}, nil
}

// EncodeBatch encodes an ordered batch of executions.
func EncodeBatch(execs []Execution) []byte {
	var out []byte
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(execs)))
	out = append(out, count[:]...)
	for _, e := range execs {
		item := EncodeSingle(e)
		var plen [4]byte
		binary.BigEndian.PutUint32(plen[:], uint32(len(e.Payload)))
		out = append(out, item[:singleHeaderLen]...)
		out = append(out, plen[:]...)
		out = append(out, e.Payload...)
	}
	return out
}

// DecodeBatch decodes a batch payload.
func DecodeBatch(b []byte) ([]Execution, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: no batch header", ErrTruncatedPayload)
	}
	count := int(binary.BigEndian.Uint16(b[0:2]))
	b = b[2:]
	execs := make([]Execution, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < singleHeaderLen+4 {
			return nil, fmt.Errorf("%w: batch item %d", ErrTruncatedPayload, i)
		}
		target := common.BytesToAddress(b[0:20])
		value := new(big.Int).SetBytes(b[20:52])
		plen := int(binary.BigEndian.Uint32(b[52:56]))
		b = b[56:]
		if len(b) < plen {
			return nil, fmt.Errorf("%w: batch item %d payload", ErrTruncatedPayload, i)
		}
		execs = append(execs, Execution{
			Target:  target,
			Value:   value,
			Payload: append([]byte(nil), b[:plen]...),
		})
		b = b[plen:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingBytes, len(b))
	}
	return execs, nil
}
