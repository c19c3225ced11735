package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RequestStatus tracks a position request through execution.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusExecuted  RequestStatus = "executed"
	RequestStatusCancelled RequestStatus = "cancelled"
	RequestStatusRejected  RequestStatus = "rejected"
)

// IsTerminal reports whether no further transition can happen.
func (s RequestStatus) IsTerminal() bool {
	return s != RequestStatusPending
}

// PositionRequest is an externally produced intent to increase or decrease a
// position. SizeDelta is in index-token units.
type PositionRequest struct {
	Key             common.Hash
	User            common.Address
	IndexToken      common.Address
	CollateralToken common.Address
	IsLong          bool
	IsIncrease      bool
	IsLimit         bool
	SizeDelta       *uint256.Int
	CollateralDelta *uint256.Int
	AcceptablePrice *uint256.Int
	RequestBlock    uint64

	// PriceImpact is filled in during execution; signed int256.
	PriceImpact *uint256.Int

	CreatedAt time.Time
}

// Clone returns a deep copy of the request.
func (r PositionRequest) Clone() PositionRequest {
	c := r
	c.SizeDelta = clone(r.SizeDelta)
	c.CollateralDelta = clone(r.CollateralDelta)
	c.AcceptablePrice = clone(r.AcceptablePrice)
	c.PriceImpact = clone(r.PriceImpact)
	return c
}

// PendingCursor is a position in the (CreatedAt, Key) order pending requests
// are listed in. The zero cursor is the start of the order.
type PendingCursor struct {
	CreatedAt time.Time
	Key       common.Hash
}

// IsZero reports whether c is the start of the order.
func (c PendingCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.Key == (common.Hash{})
}

// Before reports whether c sorts ahead of o.
func (c PendingCursor) Before(o PendingCursor) bool {
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.Before(o.CreatedAt)
	}
	return c.Key.Cmp(o.Key) < 0
}

// Cursor returns the position of r in the pending order.
func (r PositionRequest) Cursor() PendingCursor {
	return PendingCursor{CreatedAt: r.CreatedAt, Key: r.Key}
}
