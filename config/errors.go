package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"mainnet\", \"testnet\", \"regtest\" or \"signet\")")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrInvalidLogFormat indicates the log format is neither console nor json.
	ErrInvalidLogFormat = errors.New("config: invalid log format (must be \"console\" or \"json\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrInvalidFeerate indicates a pre-signed feerate is not positive.
	ErrInvalidFeerate = errors.New("config: feerate must be positive")

	// ErrInvalidCSV indicates the unvault relative lock is zero or does not
	// fit a block-based sequence.
	ErrInvalidCSV = errors.New("config: unvault csv must be between 1 and 65535 blocks")

	// ErrInvalidThreshold indicates the managers threshold is out of range.
	ErrInvalidThreshold = errors.New("config: invalid managers threshold")

	// ErrInvalidKeys indicates a key list failed to parse.
	ErrInvalidKeys = errors.New("config: invalid key list")

	// ErrMissingKeys indicates a required key list is empty.
	ErrMissingKeys = errors.New("config: missing key list")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigLine indicates a line in the config file is malformed.
	ErrInvalidConfigLine = errors.New("config: invalid configuration line")

	// ErrInvalidConfigValue indicates a numeric setting failed to parse.
	ErrInvalidConfigValue = errors.New("config: invalid configuration value")
)
