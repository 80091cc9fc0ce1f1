package models

import "errors"

// ErrorKind groups rejections by how a caller should react to them.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindConflict
	KindUnauthorized
	KindNotFound
	KindFunds
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindFunds:
		return "funds"
	default:
		return "unknown"
	}
}

// Error is a rejected operation. Every Error is returned before any state
// is committed.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidSchedule  = newError(KindValidation, "InvalidSchedule", "departure time must be in the future")
	ErrInvalidSeats     = newError(KindValidation, "InvalidSeats", "seat count must be greater than zero")
	ErrInvalidPrice     = newError(KindValidation, "InvalidPrice", "price per seat must be greater than zero")
	ErrIncorrectPayment = newError(KindValidation, "IncorrectPayment", "incorrect payment amount")
	ErrZeroPayment      = newError(KindValidation, "ZeroPayment", "payment required")
	ErrInvalidRating    = newError(KindValidation, "InvalidRating", "rating must be between 1 and 5")
	ErrAmountOverflow   = newError(KindValidation, "AmountOverflow", "amount exceeds the supported range")
	ErrInvalidAmount    = newError(KindValidation, "InvalidAmount", "amount must be greater than zero")
	ErrInvalidAddress   = newError(KindValidation, "InvalidAddress", "address must not be empty")

	ErrRideFull         = newError(KindConflict, "RideFull", "not enough seats available")
	ErrRideInactive     = newError(KindConflict, "RideInactive", "ride is not active")
	ErrAlreadyInactive  = newError(KindConflict, "AlreadyInactive", "ride is already inactive")
	ErrAlreadyProcessed = newError(KindConflict, "AlreadyProcessed", "already processed")
	ErrAlreadyRated     = newError(KindConflict, "AlreadyRated", "already rated this ride")
	ErrDuplicateBooking = newError(KindConflict, "DuplicateBooking", "passenger already holds a booking on this ride")
	ErrNotPaid          = newError(KindConflict, "NotPaid", "booking is not paid")
	ErrRideNotCompleted = newError(KindConflict, "RideNotCompleted", "rater has no completed booking on this ride")

	ErrNotDriver    = newError(KindUnauthorized, "NotDriver", "only the ride driver may do this")
	ErrNotOwner     = newError(KindUnauthorized, "NotOwner", "only the owner may do this")
	ErrNotPassenger = newError(KindUnauthorized, "NotPassenger", "only the booking passenger may do this")

	ErrRideNotFound    = newError(KindNotFound, "RideNotFound", "ride does not exist")
	ErrBookingNotFound = newError(KindNotFound, "BookingNotFound", "booking does not exist")
	ErrEscrowNotFound  = newError(KindNotFound, "EscrowNotFound", "escrow entry does not exist")

	ErrInsufficientBalance = newError(KindFunds, "InsufficientBalance", "token balance too low")
	ErrInsufficientFunds   = newError(KindFunds, "InsufficientFunds", "wallet balance too low")
)

// KindOf returns the kind of a rejection, or 0 for infrastructure errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the rejection code, or "Internal" for infrastructure errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}
