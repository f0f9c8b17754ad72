package enforcer

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/deleguard/deleguard/internal/delegation"
)

// LogicalOr is the framework's sole disjunction primitive: terms encode
// named groups of caveats, and the redeemer's args select exactly one group
// to evaluate. All branch definitions originate from the signed terms; args
// choose a branch and supply per-caveat args, nothing more.
//
// Terms:  groupCount(1) || per group: caveatCount(1) || per caveat:
//         enforcer(20) || termsLen(2) || terms.
// Args:   groupIndex(2) || per caveat in the selected group:
//         argsLen(2) || args.
type LogicalOr struct {
	Base
	reg *Registry
}

func NewLogicalOr(reg *Registry) *LogicalOr {
	return &LogicalOr{reg: reg}
}

func (*LogicalOr) Name() string { return "logical-or" }

type orGroup struct {
	caveats []delegation.Caveat
}

func decodeOrTerms(terms []byte) ([]orGroup, error) {
	if len(terms) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTermsLength)
	}
	groupCount := int(terms[0])
	if groupCount == 0 {
		return nil, fmt.Errorf("%w: zero groups", ErrInvalidTermsLength)
	}
	terms = terms[1:]
	groups := make([]orGroup, 0, groupCount)
	for g := 0; g < groupCount; g++ {
		if len(terms) < 1 {
			return nil, fmt.Errorf("%w: truncated group %d", ErrInvalidTermsLength, g)
		}
		caveatCount := int(terms[0])
		if caveatCount == 0 {
			return nil, fmt.Errorf("%w: empty group %d", ErrInvalidTermsLength, g)
		}
		terms = terms[1:]
		group := orGroup{caveats: make([]delegation.Caveat, 0, caveatCount)}
		for c := 0; c < caveatCount; c++ {
			if len(terms) < 22 {
				return nil, fmt.Errorf("%w: truncated caveat %d in group %d", ErrInvalidTermsLength, c, g)
			}
			enf := common.BytesToAddress(terms[0:20])
			tlen := int(binary.BigEndian.Uint16(terms[20:22]))
			terms = terms[22:]
			if len(terms) < tlen {
				return nil, fmt.Errorf("%w: truncated caveat terms in group %d", ErrInvalidTermsLength, g)
			}
			group.caveats = append(group.caveats, delegation.Caveat{
				Enforcer: enf,
				Terms:    append([]byte(nil), terms[:tlen]...),
			})
			terms = terms[tlen:]
		}
		groups = append(groups, group)
	}
	if len(terms) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidTermsLength, len(terms))
	}
	return groups, nil
}

// selectGroup resolves the redeemer's branch selection against the signed
// group list and splits the per-caveat args.
func selectGroup(groups []orGroup, args []byte) (orGroup, [][]byte, error) {
	if len(args) < 2 {
		return orGroup{}, nil, fmt.Errorf("%w: missing group index", ErrInvalidCaveatArgsLength)
	}
	idx := int(binary.BigEndian.Uint16(args[0:2]))
	if idx >= len(groups) {
		return orGroup{}, nil, fmt.Errorf("%w: %d of %d groups", ErrInvalidGroupIndex, idx, len(groups))
	}
	group := groups[idx]
	args = args[2:]

	caveatArgs := make([][]byte, 0, len(group.caveats))
	for c := range group.caveats {
		if len(args) < 2 {
			return orGroup{}, nil, fmt.Errorf("%w: missing args for caveat %d", ErrInvalidCaveatArgsLength, c)
		}
		alen := int(binary.BigEndian.Uint16(args[0:2]))
		args = args[2:]
		if len(args) < alen {
			return orGroup{}, nil, fmt.Errorf("%w: truncated args for caveat %d", ErrInvalidCaveatArgsLength, c)
		}
		caveatArgs = append(caveatArgs, append([]byte(nil), args[:alen]...))
		args = args[alen:]
	}
	if len(args) != 0 {
		return orGroup{}, nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidCaveatArgsLength, len(args))
	}
	return group, caveatArgs, nil
}

type hookFunc func(Enforcer, context.Context, *HookRequest) error

func (e *LogicalOr) dispatch(ctx context.Context, req *HookRequest, call hookFunc) error {
	groups, err := decodeOrTerms(req.Terms)
	if err != nil {
		return err
	}
	group, caveatArgs, err := selectGroup(groups, req.Args)
	if err != nil {
		return err
	}
	for i, cav := range group.caveats {
		sub, err := e.reg.Resolve(cav.Enforcer)
		if err != nil {
			return err
		}
		subReq := *req
		subReq.Terms = cav.Terms
		subReq.Args = caveatArgs[i]
		if err := call(sub, ctx, &subReq); err != nil {
			return err
		}
	}
	return nil
}

func (e *LogicalOr) BeforeAllHook(ctx context.Context, req *HookRequest) error {
	return e.dispatch(ctx, req, func(s Enforcer, c context.Context, r *HookRequest) error { return s.BeforeAllHook(c, r) })
}

func (e *LogicalOr) BeforeHook(ctx context.Context, req *HookRequest) error {
	return e.dispatch(ctx, req, func(s Enforcer, c context.Context, r *HookRequest) error { return s.BeforeHook(c, r) })
}

func (e *LogicalOr) AfterHook(ctx context.Context, req *HookRequest) error {
	return e.dispatch(ctx, req, func(s Enforcer, c context.Context, r *HookRequest) error { return s.AfterHook(c, r) })
}

func (e *LogicalOr) AfterAllHook(ctx context.Context, req *HookRequest) error {
	return e.dispatch(ctx, req, func(s Enforcer, c context.Context, r *HookRequest) error { return s.AfterAllHook(c, r) })
}
