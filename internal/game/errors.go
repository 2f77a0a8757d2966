package game

import "errors"

var (
	ErrInvalidDuration   = errors.New("duration must be positive")
	ErrUnknownTargetType = errors.New("unknown target type")
	ErrTimerNotFound     = errors.New("timer not found")
	ErrStatusNotFound    = errors.New("status not found")
	ErrPartyNotFound     = errors.New("party not found")
	ErrNotMember         = errors.New("character is not a party member")
	ErrAlreadyInParty    = errors.New("character is already in a party")
	ErrTurnInProgress    = errors.New("party turn is already being processed")
	ErrPartyErrored      = errors.New("party turn is in error state")
)
