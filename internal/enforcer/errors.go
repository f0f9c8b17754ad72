package enforcer

import "errors"

// Malformed configuration. Checked first, never partially decoded.
var ErrInvalidTermsLength = errors.New("invalid terms length")

// Mode rejections.
var (
	ErrInvalidCallType      = errors.New("invalid call type")
	ErrInvalidExecutionType = errors.New("invalid execution type")
)

// Policy violations.
var (
	ErrAllowanceExceeded         = errors.New("allowance exceeded")
	ErrLimitExceeded             = errors.New("limit exceeded")
	ErrInsufficientBalanceChange = errors.New("insufficient balance change")
	ErrExcessiveBalanceDecrease  = errors.New("excessive balance decrease")
	ErrEarlyDelegation           = errors.New("delegation not yet valid")
	ErrExpiredDelegation         = errors.New("delegation expired")
	ErrUnauthorizedTarget        = errors.New("unauthorized target")
	ErrUnauthorizedMethod        = errors.New("unauthorized method")
	ErrUnauthorizedRedeemer      = errors.New("unauthorized redeemer")
	ErrInvalidExecution          = errors.New("invalid execution")
	ErrInvalidBatchSize          = errors.New("invalid batch size")
	ErrZeroExpectedChange        = errors.New("expected change is zero")
	ErrClaimNotStarted           = errors.New("claim period not started")
	ErrClaimAmountExceeded       = errors.New("claim amount exceeded")
	ErrInvalidGroupIndex         = errors.New("invalid group index")
	ErrInvalidCaveatArgsLength   = errors.New("invalid caveat args length")
	ErrInvalidToken              = errors.New("invalid token")
	ErrInvalidMethod             = errors.New("invalid method")
	ErrExceedsOutputAmount       = errors.New("exceeds output amount")
)

// State conflicts.
var ErrEnforcerLocked = errors.New("enforcer locked")

// Arithmetic faults. Always fatal, never a policy decision.
var ErrAmountOverflow = errors.New("amount overflow")
