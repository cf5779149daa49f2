package consensus

import "errors"

var (
	// ErrScriptFailed indicates an input's scripts failed interpreter execution.
	ErrScriptFailed = errors.New("consensus: script verification failed")

	// ErrMissingPrevOut indicates no previous output is known for an input.
	ErrMissingPrevOut = errors.New("consensus: missing previous output")

	// ErrInputIndex indicates the input index is outside the transaction.
	ErrInputIndex = errors.New("consensus: input index out of range")
)
