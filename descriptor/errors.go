package descriptor

import "errors"

var (
	// ErrInvalidDescriptor indicates the key set or parameters cannot form a descriptor for the role.
	ErrInvalidDescriptor = errors.New("descriptor: invalid descriptor")

	// ErrScriptMismatch indicates an output script does not pay to the descriptor.
	ErrScriptMismatch = errors.New("descriptor: output script does not match descriptor")

	// ErrInvalidKey indicates a public key failed to parse.
	ErrInvalidKey = errors.New("descriptor: invalid public key")
)
