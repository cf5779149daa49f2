// Package config loads and validates the settings of a vault deployment:
// where state lives, which network it runs on, the pre-signed feerates and
// the participants' keys.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitfsorg/librevault-go/descriptor"
)

// Config holds the settings of one vault.
type Config struct {
	DataDir   string
	Network   string // mainnet, testnet, regtest or signet
	LogLevel  string // debug, info, warn or error
	LogFormat string // console or json

	// Feerates in sat/vbyte.
	UnvaultFeerate   int64
	CancelFeerate    int64
	EmergencyFeerate int64

	UnvaultCSV uint32 // blocks

	// Comma-separated hex compressed public keys.
	Stakeholders  string
	Managers      string
	Cosigners     string
	EmergencyKeys string

	ManagersThreshold int
}

// DefaultDataDir returns ~/.revault, or .revault when the home directory
// is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".revault"
	}
	return filepath.Join(home, ".revault")
}

// ConfigPath returns the config file location inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config")
}

// DefaultConfig returns a configuration with no participants.
func DefaultConfig() Config {
	return Config{
		DataDir:           DefaultDataDir(),
		Network:           "mainnet",
		LogLevel:          "info",
		LogFormat:         "console",
		UnvaultFeerate:    10,
		CancelFeerate:     20,
		EmergencyFeerate:  20,
		UnvaultCSV:        144,
		ManagersThreshold: 1,
	}
}

// keys in file order.
var fileKeys = []string{
	"datadir", "network", "loglevel", "logformat",
	"unvault_feerate", "cancel_feerate", "emergency_feerate", "unvault_csv",
	"stakeholders", "managers", "managers_threshold", "cosigners", "emergency",
}

func (c *Config) get(key string) string {
	switch key {
	case "datadir":
		return c.DataDir
	case "network":
		return c.Network
	case "loglevel":
		return c.LogLevel
	case "logformat":
		return c.LogFormat
	case "unvault_feerate":
		return strconv.FormatInt(c.UnvaultFeerate, 10)
	case "cancel_feerate":
		return strconv.FormatInt(c.CancelFeerate, 10)
	case "emergency_feerate":
		return strconv.FormatInt(c.EmergencyFeerate, 10)
	case "unvault_csv":
		return strconv.FormatUint(uint64(c.UnvaultCSV), 10)
	case "stakeholders":
		return c.Stakeholders
	case "managers":
		return c.Managers
	case "managers_threshold":
		return strconv.Itoa(c.ManagersThreshold)
	case "cosigners":
		return c.Cosigners
	case "emergency":
		return c.EmergencyKeys
	}
	return ""
}

// set assigns key. Unknown keys are ignored.
func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "datadir":
		c.DataDir = value
	case "network":
		c.Network = value
	case "loglevel":
		c.LogLevel = value
	case "logformat":
		c.LogFormat = value
	case "unvault_feerate":
		c.UnvaultFeerate, err = strconv.ParseInt(value, 10, 64)
	case "cancel_feerate":
		c.CancelFeerate, err = strconv.ParseInt(value, 10, 64)
	case "emergency_feerate":
		c.EmergencyFeerate, err = strconv.ParseInt(value, 10, 64)
	case "unvault_csv":
		var csv uint64
		csv, err = strconv.ParseUint(value, 10, 32)
		c.UnvaultCSV = uint32(csv)
	case "stakeholders":
		c.Stakeholders = value
	case "managers":
		c.Managers = value
	case "managers_threshold":
		c.ManagersThreshold, err = strconv.Atoi(value)
	case "cosigners":
		c.Cosigners = value
	case "emergency":
		c.EmergencyKeys = value
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfigValue, key, err)
	}
	return nil
}

// LoadConfig reads a key = value file on top of DefaultConfig. Blank lines
// and lines starting with # are skipped.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, err := parseKeyValue(line)
		if err != nil {
			return cfg, fmt.Errorf("%w: line %d", err, lineNo)
		}
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("%w: line %d", err, lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read: %w", err)
	}
	return cfg, nil
}

// parseKeyValue splits a line on its first '='.
func parseKeyValue(line string) (string, string, error) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidConfigLine, line)
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidConfigLine, line)
	}
	return key, strings.TrimSpace(value), nil
}

// SaveConfig writes cfg to path, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Revault Configuration\n\n")
	for _, key := range fileKeys {
		fmt.Fprintf(&b, "%s = %s\n", key, cfg.get(key))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

// ChainParams returns the chaincfg parameters of cfg.Network.
func (c Config) ChainParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidNetwork, c.Network)
}

// Descriptors builds the deposit, unvault, fee-bump and emergency
// descriptors from the configured participants.
func (c Config) Descriptors() (*descriptor.Set, error) {
	stk, err := parseKeys("stakeholders", c.Stakeholders, true)
	if err != nil {
		return nil, err
	}
	man, err := parseKeys("managers", c.Managers, true)
	if err != nil {
		return nil, err
	}
	cosigners, err := parseKeys("cosigners", c.Cosigners, false)
	if err != nil {
		return nil, err
	}
	emer, err := parseKeys("emergency", c.EmergencyKeys, true)
	if err != nil {
		return nil, err
	}

	set := &descriptor.Set{}
	if set.Deposit, err = descriptor.NewDeposit(stk); err != nil {
		return nil, err
	}
	set.Unvault, err = descriptor.NewUnvault(&descriptor.UnvaultParams{
		Stakeholders:      stk,
		Managers:          man,
		ManagersThreshold: c.ManagersThreshold,
		Cosigners:         cosigners,
		CSV:               c.UnvaultCSV,
	})
	if err != nil {
		return nil, err
	}
	if set.FeeBump, err = descriptor.NewFeeBump(man); err != nil {
		return nil, err
	}
	if set.Emergency, err = descriptor.NewEmergency(emer); err != nil {
		return nil, err
	}
	return set, nil
}

func parseKeys(name, value string, required bool) ([]*btcec.PublicKey, error) {
	keys, err := descriptor.ParseKeys(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidKeys, name, err)
	}
	if required && len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingKeys, name)
	}
	return keys, nil
}
