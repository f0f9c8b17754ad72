package engine

import "errors"

var (
	ErrBatchLengthMismatch = errors.New("contexts, modes and payloads must have equal length")
	ErrInvalidDelegate     = errors.New("leaf delegate does not match redeemer")
	ErrBrokenChain         = errors.New("broken authority chain")
	ErrEmptySignature      = errors.New("empty delegation signature")
	ErrInvalidSignature    = errors.New("invalid delegation signature")
	ErrDelegationDisabled  = errors.New("delegation disabled")
	ErrNotDelegator        = errors.New("requester is not the delegator")
	ErrNoHandler           = errors.New("no handler for execution target")
)
