package services

import "errors"

// ErrValidation marks caller input that was rejected. Handlers map it to 400.
var ErrValidation = errors.New("validation failed")
