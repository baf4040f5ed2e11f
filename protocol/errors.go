// Package protocol implements the control protocol between a supervising
// process and a co-simulation party: sealed startup arguments, the INIT
// response line and steering command envelopes.
package protocol

import "errors"

// Protocol errors
var (
	ErrArgumentCount      = errors.New("missing argument[s]")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrIntegrity          = errors.New("integrity check failed")
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrKindMismatch       = errors.New("envelope kind mismatch")
	ErrMalformedArgument  = errors.New("malformed startup argument")
	ErrMalformedCommand   = errors.New("malformed command envelope")
	ErrMalformedResponse  = errors.New("malformed INIT response")
)
