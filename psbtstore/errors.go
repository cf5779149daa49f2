package psbtstore

import "errors"

var (
	// ErrNotFound indicates no record is stored under the txid.
	ErrNotFound = errors.New("psbtstore: record not found")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("psbtstore: required parameter is nil")

	// ErrInvalidRecord indicates a record is missing its PSBT or its txid
	// does not match the PSBT.
	ErrInvalidRecord = errors.New("psbtstore: invalid record")
)
