package delegation

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RootAuthority marks a delegation as a primary grant: its authority does not
// point at a parent delegation.
var RootAuthority = common.HexToHash("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

// Delegation is a signed grant of authority from Delegator to Delegate,
// gated by Caveats. Authority is either RootAuthority or the hash of the
// parent delegation, forming a chain.
type Delegation struct {
	Delegate  common.Address
	Delegator common.Address
	Authority common.Hash
	Caveats   []Caveat
	Salt      *big.Int
	Signature []byte
}

// Caveat attaches one policy check to a delegation. Terms are fixed at
// signing time; Args are supplied by the redeemer at redemption time and are
// never covered by the signature.
type Caveat struct {
	Enforcer common.Address
	Terms    []byte
	Args     []byte
}

// Execution is the unit of work a delegation ultimately authorizes.
type Execution struct {
	Target  common.Address
	Value   *big.Int
	Payload []byte
}

// CallType distinguishes single executions from batches.
type CallType uint8

// ExecType controls sub-call failure propagation: default aborts the hop,
// try captures the failure and continues.
type ExecType uint8

const (
	CallSingle CallType = iota
	CallBatch
)

const (
	ExecDefault ExecType = iota
	ExecTry
)

// Mode tags how an execution payload is shaped and how failures propagate.
type Mode struct {
	Call CallType
	Exec ExecType
}

func (c CallType) String() string {
	switch c {
	case CallSingle:
		return "single"
	case CallBatch:
		return "batch"
	default:
		return "unknown"
	}
}

func (e ExecType) String() string {
	switch e {
	case ExecDefault:
		return "default"
	case ExecTry:
		return "try"
	default:
		return "unknown"
	}
}

func (m Mode) String() string {
	return m.Call.String() + "/" + m.Exec.String()
}

type modeJSON struct {
	Call string `json:"call"`
	Exec string `json:"exec"`
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(modeJSON{Call: m.Call.String(), Exec: m.Exec.String()})
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var raw modeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Call {
	case "single":
		m.Call = CallSingle
	case "batch":
		m.Call = CallBatch
	default:
		return fmt.Errorf("unknown call type %q", raw.Call)
	}
	switch raw.Exec {
	case "default":
		m.Exec = ExecDefault
	case "try":
		m.Exec = ExecTry
	default:
		return fmt.Errorf("unknown exec type %q", raw.Exec)
	}
	return nil
}

// JSON shapes follow the delegation-toolkit convention: addresses and byte
// strings are 0x-hex, salt is a hex quantity.
type delegationJSON struct {
	Delegate  common.Address `json:"delegate"`
	Delegator common.Address `json:"delegator"`
	Authority common.Hash    `json:"authority"`
	Caveats   []caveatJSON   `json:"caveats"`
	Salt      *hexutil.Big   `json:"salt"`
	Signature hexutil.Bytes  `json:"signature"`
}

type caveatJSON struct {
	Enforcer common.Address `json:"enforcer"`
	Terms    hexutil.Bytes  `json:"terms"`
	Args     hexutil.Bytes  `json:"args,omitempty"`
}

func (d Delegation) MarshalJSON() ([]byte, error) {
	caveats := make([]caveatJSON, len(d.Caveats))
	for i, c := range d.Caveats {
		caveats[i] = caveatJSON{Enforcer: c.Enforcer, Terms: c.Terms, Args: c.Args}
	}
	salt := d.Salt
	if salt == nil {
		salt = new(big.Int)
	}
	return json.Marshal(delegationJSON{
		Delegate:  d.Delegate,
		Delegator: d.Delegator,
		Authority: d.Authority,
		Caveats:   caveats,
		Salt:      (*hexutil.Big)(salt),
		Signature: d.Signature,
	})
}

func (d *Delegation) UnmarshalJSON(data []byte) error {
	var raw delegationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Delegate = raw.Delegate
	d.Delegator = raw.Delegator
	d.Authority = raw.Authority
	d.Caveats = make([]Caveat, len(raw.Caveats))
	for i, c := range raw.Caveats {
		d.Caveats[i] = Caveat{Enforcer: c.Enforcer, Terms: c.Terms, Args: c.Args}
	}
	d.Salt = (*big.Int)(raw.Salt)
	if d.Salt == nil {
		d.Salt = new(big.Int)
	}
	d.Signature = raw.Signature
	return nil
}

type executionJSON struct {
	Target  common.Address `json:"target"`
	Value   *hexutil.Big   `json:"value"`
	Payload hexutil.Bytes  `json:"payload,omitempty"`
}

func (e Execution) MarshalJSON() ([]byte, error) {
	val := e.Value
	if val == nil {
		val = new(big.Int)
	}
	return json.Marshal(executionJSON{Target: e.Target, Value: (*hexutil.Big)(val), Payload: e.Payload})
}

func (e *Execution) UnmarshalJSON(data []byte) error {
	var raw executionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Target = raw.Target
	e.Value = (*big.Int)(raw.Value)
	if e.Value == nil {
		e.Value = new(big.Int)
	}
	e.Payload = raw.Payload
	return nil
}
