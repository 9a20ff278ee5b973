package service

import "errors"

var (
	ErrFormNotFound        = errors.New("compose form not found")
	ErrFormExists          = errors.New("compose form already exists")
	ErrInvalidFormStatus   = errors.New("invalid form status")
	ErrInvalidSongIndex    = errors.New("invalid song index")
	ErrLookupKeyRequired   = errors.New("formId or stripeSessionId is required")
	ErrAuthRequired        = errors.New("authentication required")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnknownPackage      = errors.New("unknown package")
	ErrMissingUser         = errors.New("payment has neither user id nor email")
	ErrMissingCredits      = errors.New("payment has no valid credits metadata")
	ErrShareNotFound       = errors.New("shared song not found")
	ErrInvalidFormData     = errors.New("invalid formData")
)
