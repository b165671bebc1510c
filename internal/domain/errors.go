package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrNetwork         = errors.New("network error")
	ErrTimeout         = errors.New("request timed out")
	ErrParse           = errors.New("malformed response")
	ErrHostInvalidated = errors.New("host invalidated")
	ErrStreamClosed    = errors.New("stream closed")
	ErrNoCredential    = errors.New("missing stream credential")
	ErrEngineDisabled  = errors.New("engine disabled by remote settings")
)
