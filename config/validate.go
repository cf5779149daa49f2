package config

import (
	"fmt"
	"strings"

	"github.com/bitfsorg/librevault-go/descriptor"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// maxCSV is the largest block-based relative lock.
const maxCSV = 0xffff

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid. Key
// lists are checked for syntax only; Descriptors reports missing ones.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	if _, err := cfg.ChainParams(); err != nil {
		return err
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}
	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return ErrInvalidLogFormat
	}

	for name, rate := range map[string]int64{
		"unvault":   cfg.UnvaultFeerate,
		"cancel":    cfg.CancelFeerate,
		"emergency": cfg.EmergencyFeerate,
	} {
		if rate <= 0 {
			return fmt.Errorf("%w: %s %d", ErrInvalidFeerate, name, rate)
		}
	}

	if cfg.UnvaultCSV == 0 || cfg.UnvaultCSV > maxCSV {
		return fmt.Errorf("%w: %d", ErrInvalidCSV, cfg.UnvaultCSV)
	}

	for name, list := range map[string]string{
		"stakeholders": cfg.Stakeholders,
		"managers":     cfg.Managers,
		"cosigners":    cfg.Cosigners,
		"emergency":    cfg.EmergencyKeys,
	} {
		if _, err := descriptor.ParseKeys(list); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidKeys, name, err)
		}
	}

	managers, _ := descriptor.ParseKeys(cfg.Managers)
	if cfg.ManagersThreshold < 1 || (len(managers) > 0 && cfg.ManagersThreshold > len(managers)) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, cfg.ManagersThreshold, len(managers))
	}

	return nil
}
