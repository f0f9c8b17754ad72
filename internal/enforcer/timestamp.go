package enforcer

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

// Timestamp restricts redemption to an inclusive wall-clock window.
// Terms: afterUnix(8) || beforeUnix(8); zero means unbounded on that side.
type Timestamp struct {
	Base
	Now func() int64 // overridable for tests
}

func NewTimestamp() *Timestamp {
	return &Timestamp{Now: func() int64 { return time.Now().Unix() }}
}

func (*Timestamp) Name() string { return "timestamp" }

func decodeWindow(terms []byte) (after, before int64, err error) {
	if len(terms) != 16 {
		return 0, 0, fmt.Errorf("%w: %d bytes, want 16", ErrInvalidTermsLength, len(terms))
	}
	return int64(binary.BigEndian.Uint64(terms[0:8])), int64(binary.BigEndian.Uint64(terms[8:16])), nil
}

func (e *Timestamp) BeforeHook(_ context.Context, req *HookRequest) error {
	after, before, err := decodeWindow(req.Terms)
	if err != nil {
		return err
	}
	now := e.Now()
	if after != 0 && now < after {
		return fmt.Errorf("%w: now %d < %d", ErrEarlyDelegation, now, after)
	}
	if before != 0 && now > before {
		return fmt.Errorf("%w: now %d > %d", ErrExpiredDelegation, now, before)
	}
	return nil
}
