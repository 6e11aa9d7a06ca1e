package entity

import "errors"

// Standard domain errors
var (
	ErrRateLimitExceeded  = errors.New("rate limit exceeded: too many turns for this session")
	ErrInternalServer     = errors.New("an internal error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters")
	ErrResourceNotFound   = errors.New("the requested resource was not found")
	ErrConflict           = errors.New("the resource already exists")
	ErrQueueFull          = errors.New("turn queue is full")
	ErrDispatcherClosed   = errors.New("turn dispatcher is closed")
	ErrEmptyModelResponse = errors.New("model returned no candidates")
)

// UserFacingErrorMessage is the only failure text a shopper ever sees.
const UserFacingErrorMessage = "Sorry, something went wrong on our side. Please try again in a moment."
