package spread

import (
	"errors"
	"fmt"
)

// ErrInsufficientData matches every *InsufficientDataError under errors.Is.
var ErrInsufficientData = errors.New("insufficient data")

// ErrOutOfOrder is returned when a tracker update is not later than the previous one.
var ErrOutOfOrder = errors.New("observation out of order")

// ErrInvalidPrice is returned for non-positive or non-finite prices.
var ErrInvalidPrice = errors.New("invalid price")

// InsufficientDataError reports a rolling window that is not full yet.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d of %d observations", e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// CointegrationError reports why a pair could not be fitted.
type CointegrationError struct {
	PairID string
	Reason string
	Err    error
}

func (e *CointegrationError) Error() string {
	msg := fmt.Sprintf("cointegration fit %s: %s", e.PairID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CointegrationError) Unwrap() error {
	return e.Err
}

func fitError(pairID string, err error, format string, args ...interface{}) *CointegrationError {
	return &CointegrationError{PairID: pairID, Reason: fmt.Sprintf(format, args...), Err: err}
}
