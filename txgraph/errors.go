package txgraph

import "errors"

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("txgraph: required parameter is nil")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("txgraph: invalid parameters")

	// ErrInsufficientFunds indicates a fee or an output value would be negative.
	ErrInsufficientFunds = errors.New("txgraph: insufficient funds")

	// ErrDescriptorMismatch indicates a role was built against, or spends, a
	// descriptor that does not fit the role's spending policy.
	ErrDescriptorMismatch = errors.New("txgraph: descriptor does not match transaction role")

	// ErrDust indicates an output value is below the dust limit.
	ErrDust = errors.New("txgraph: output below dust limit")

	// ErrInsaneFees indicates the fee exceeds the sanity ceiling.
	ErrInsaneFees = errors.New("txgraph: insane fees")

	// ErrDuplicatedInput indicates the same outpoint is spent twice.
	ErrDuplicatedInput = errors.New("txgraph: duplicated input")

	// ErrTooLarge indicates the transaction exceeds the standard weight limit.
	ErrTooLarge = errors.New("txgraph: transaction too large")

	// ErrFeeMismatch indicates the built fee differs from the role's fixed fee.
	ErrFeeMismatch = errors.New("txgraph: fee does not match fixed fee")

	// ErrInputOutOfBounds indicates an input index outside the transaction.
	ErrInputOutOfBounds = errors.New("txgraph: input index out of bounds")

	// ErrBadSignature indicates a signature that does not verify against the
	// input's signature hash and claimed key, or a key foreign to the input's
	// descriptor.
	ErrBadSignature = errors.New("txgraph: bad signature")

	// ErrConflictingSignature indicates a different signature is already
	// stored for the same key.
	ErrConflictingSignature = errors.New("txgraph: conflicting signature for key")

	// ErrMissingSignature indicates finalization before every input reached its threshold.
	ErrMissingSignature = errors.New("txgraph: missing signature")

	// ErrScriptSatisfactionFailed indicates the collected signatures cannot
	// satisfy the input's policy.
	ErrScriptSatisfactionFailed = errors.New("txgraph: script satisfaction failed")

	// ErrAlreadyFinalized indicates the transaction was already finalized.
	ErrAlreadyFinalized = errors.New("txgraph: transaction already finalized")

	// ErrInvalidState indicates the operation is not allowed in the current lifecycle state.
	ErrInvalidState = errors.New("txgraph: invalid transaction state")

	// ErrUnexpectedBranch indicates an input was satisfied through a branch
	// its role must not use.
	ErrUnexpectedBranch = errors.New("txgraph: unexpected spending branch")

	// ErrConsensusValidationFailed indicates the finalized transaction failed
	// interpreter re-execution. The transaction must be discarded.
	ErrConsensusValidationFailed = errors.New("txgraph: consensus validation failed")

	// ErrInvalidPsbt indicates a serialized transaction is malformed or does
	// not describe a vault transaction.
	ErrInvalidPsbt = errors.New("txgraph: invalid PSBT")
)
