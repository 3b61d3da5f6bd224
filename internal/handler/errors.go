package handler

import "errors"

// The seven reject/fault kinds of spec §7. Kinds 1-5 are data-plane errors:
// the offending delivery is rejected and counted, never retried. Kind 6
// aborts the consume loop for the supervisor to reconnect. Kind 7 is fatal.
var (
	ErrMalformedEnvelope    = errors.New("malformed envelope")
	ErrUnidentifiedProducer = errors.New("unidentified producer")
	ErrUnknownApplication   = errors.New("unknown application")
	ErrInvalidUploadMessage = errors.New("invalid upload message")
	ErrUnknownScope         = errors.New("unknown scope")
	ErrTransportFault       = errors.New("transport fault")
	ErrWatcherTerminal      = errors.New("pod watcher terminated")
)
