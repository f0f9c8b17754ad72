package queue

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/deleguard/deleguard/internal/delegation"
)

const (
	// QueueKey is the Redis list the worker consumes.
	QueueKey = "redeem:queue"
	// DLQKey receives tasks that failed redemption, with the error attached.
	DLQKey = "redeem:dlq"
)

// Task is one queued redemption request.
type Task struct {
	ID       string                    `json:"id"`
	Redeemer common.Address            `json:"redeemer"`
	Contexts [][]delegation.Delegation `json:"permission_contexts"`
	Modes    []delegation.Mode         `json:"modes"`
	Payloads []hexutil.Bytes           `json:"executions"`
}

// DeadLetter is the DLQ entry format.
type DeadLetter struct {
	Task  Task   `json:"task"`
	Error string `json:"error"`
}
