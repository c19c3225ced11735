package domain

import (
	"errors"

	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")

	ErrInvalidInput             = errors.New("invalid input")
	ErrOverflow                 = fixedpoint.ErrOverflow
	ErrDivideByZero             = fixedpoint.ErrDivideByZero
	ErrLeverageOutOfRange       = errors.New("leverage out of range")
	ErrLimitNotMet              = errors.New("limit price not met")
	ErrSlippageExceeded         = errors.New("slippage exceeded")
	ErrRequestNotFound          = errors.New("request not found")
	ErrInsufficientPositionSize = errors.New("insufficient position size")
)

// rejections are the errors that end a request for good. Anything else, a
// storage outage or a cancelled context, leaves it pending for a retry.
var rejections = []error{
	ErrInvalidInput,
	ErrOverflow,
	ErrDivideByZero,
	ErrLeverageOutOfRange,
	ErrSlippageExceeded,
	ErrRequestNotFound,
	ErrInsufficientPositionSize,
}

// Classify maps an execution error to the status a batch reports for the
// request. A nil error is reported as executed.
func Classify(err error) RequestStatus {
	if err == nil {
		return RequestStatusExecuted
	}
	for _, target := range rejections {
		if errors.Is(err, target) {
			return RequestStatusRejected
		}
	}
	return RequestStatusPending
}
