package policy

import "errors"

var (
	// ErrInvalidPolicy indicates the policy parameters cannot produce a valid script.
	ErrInvalidPolicy = errors.New("policy: invalid policy")

	// ErrDuplicateKey indicates the same public key appears twice in one policy.
	ErrDuplicateKey = errors.New("policy: duplicate public key")

	// ErrNotEnoughSignatures indicates no branch of the policy has reached its threshold.
	ErrNotEnoughSignatures = errors.New("policy: not enough signatures to satisfy any branch")

	// ErrUnsatisfiable indicates a branch has enough signatures but another of
	// its conditions (such as a relative timelock) cannot be met.
	ErrUnsatisfiable = errors.New("policy: branch cannot be satisfied")

	// ErrInvalidRelativeLock indicates a CSV value outside the block-based encoding.
	ErrInvalidRelativeLock = errors.New("policy: invalid relative locktime")
)
