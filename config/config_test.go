package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitfsorg/librevault-go/descriptor"
	"github.com/bitfsorg/librevault-go/vaulttest"
)

// withParticipants returns DefaultConfig with 2 stakeholders, 3 managers,
// 2 cosigners and 2 emergency keys.
func withParticipants() Config {
	p := vaulttest.NewParticipants(2, 3, true)
	cfg := DefaultConfig()
	cfg.Stakeholders = descriptor.FormatKeys(vaulttest.PubKeys(p.Stakeholders))
	cfg.Managers = descriptor.FormatKeys(vaulttest.PubKeys(p.Managers))
	cfg.Cosigners = descriptor.FormatKeys(vaulttest.PubKeys(p.Cosigners))
	cfg.EmergencyKeys = descriptor.FormatKeys(vaulttest.PubKeys(p.Emergency))
	cfg.ManagersThreshold = 2
	return cfg
}

// ---------------------------------------------------------------------------
// DefaultConfig tests
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Network", cfg.Network, "mainnet"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "console"},
		{"UnvaultCSV", cfg.UnvaultCSV, uint32(144)},
		{"ManagersThreshold", cfg.ManagersThreshold, 1},
		{"Stakeholders", cfg.Stakeholders, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %v, want %v", tc.got, tc.want)
			}
		})
	}

	if cfg.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
}

// ---------------------------------------------------------------------------
// SaveConfig / LoadConfig round-trip tests
// ---------------------------------------------------------------------------

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")

	original := withParticipants()
	original.DataDir = "/tmp/test-revault"
	original.Network = "regtest"
	original.LogLevel = "debug"
	original.LogFormat = "json"
	original.UnvaultFeerate = 3
	original.UnvaultCSV = 12

	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded != original {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, original)
	}
}

func TestSaveConfigCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config")

	if err := SaveConfig(path, DefaultConfig()); err != nil {
		t.Fatalf("SaveConfig should create parent dirs: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Config file not created: %v", err)
	}
}

func TestSaveConfig_OutputContainsAllKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")

	if err := SaveConfig(path, withParticipants()); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "# Revault Configuration") {
		t.Error("saved config should start with the header comment")
	}
	for _, key := range fileKeys {
		if !strings.Contains(content, key+" = ") {
			t.Errorf("saved config should contain key %q", key)
		}
	}
}

// ---------------------------------------------------------------------------
// LoadConfig tests
// ---------------------------------------------------------------------------

func TestLoadConfigNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config")
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("LoadConfig nonexistent: got %v, want ErrConfigNotFound", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"not_key_value", "this-is-not-key-value\n", ErrInvalidConfigLine},
		{"empty_key", " = testnet\n", ErrInvalidConfigLine},
		{"bad_feerate", "unvault_feerate = fast\n", ErrInvalidConfigValue},
		{"csv_overflow", "unvault_csv = 4294967296\n", ErrInvalidConfigValue},
		{"bad_threshold", "managers_threshold = two\n", ErrInvalidConfigValue},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config")
			if err := os.WriteFile(path, []byte(tc.content), 0600); err != nil {
				t.Fatal(err)
			}
			_, err := LoadConfig(path)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("LoadConfig: got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoadConfigCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	content := `# This is a comment
network = testnet

# Another comment
CANCEL_FEERATE = 50
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Network != "testnet" {
		t.Errorf("Network = %q, want %q", cfg.Network, "testnet")
	}
	if cfg.CancelFeerate != 50 {
		t.Errorf("CancelFeerate = %d, want 50", cfg.CancelFeerate)
	}
	// Unset fields keep their defaults.
	if cfg.UnvaultCSV != 144 {
		t.Errorf("UnvaultCSV = %d, want default 144", cfg.UnvaultCSV)
	}
}

func TestLoadConfigUnknownKeysIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	content := "futurekey = futurevalue\nnetwork = signet\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig with unknown key: %v", err)
	}
	if cfg.Network != "signet" {
		t.Errorf("Network = %q, want %q", cfg.Network, "signet")
	}
}

func TestLoadConfig_MultipleEquals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	// parseKeyValue splits on the first '=' only.
	if err := os.WriteFile(path, []byte("datadir=/tmp/a=b\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DataDir != "/tmp/a=b" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/tmp/a=b")
	}
}

func TestLoadConfig_PermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission test not reliable on Windows")
	}
	if os.Getuid() == 0 {
		t.Skip("cannot test permission denial as root")
	}

	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("network=testnet\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(path, 0600) })

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig on unreadable file: expected error, got nil")
	}
	if errors.Is(err, ErrConfigNotFound) {
		t.Error("LoadConfig on unreadable file should not return ErrConfigNotFound")
	}
}

// ---------------------------------------------------------------------------
// ValidateConfig tests
// ---------------------------------------------------------------------------

func TestValidateConfigDefaults(t *testing.T) {
	if err := ValidateConfig(DefaultConfig()); err != nil {
		t.Errorf("ValidateConfig(DefaultConfig()) = %v, want nil", err)
	}
	if err := ValidateConfig(withParticipants()); err != nil {
		t.Errorf("ValidateConfig(withParticipants()) = %v, want nil", err)
	}
}

func TestValidateConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"empty_datadir", func(c *Config) { c.DataDir = "" }, ErrEmptyDataDir},
		{"bad_network", func(c *Config) { c.Network = "devnet" }, ErrInvalidNetwork},
		{"empty_network", func(c *Config) { c.Network = "" }, ErrInvalidNetwork},
		{"bad_loglevel", func(c *Config) { c.LogLevel = "verbose" }, ErrInvalidLogLevel},
		{"bad_logformat", func(c *Config) { c.LogFormat = "xml" }, ErrInvalidLogFormat},
		{"zero_unvault_feerate", func(c *Config) { c.UnvaultFeerate = 0 }, ErrInvalidFeerate},
		{"negative_cancel_feerate", func(c *Config) { c.CancelFeerate = -1 }, ErrInvalidFeerate},
		{"zero_csv", func(c *Config) { c.UnvaultCSV = 0 }, ErrInvalidCSV},
		{"csv_too_large", func(c *Config) { c.UnvaultCSV = 1 << 16 }, ErrInvalidCSV},
		{"bad_key", func(c *Config) { c.Managers = "02zz" }, ErrInvalidKeys},
		{"zero_threshold", func(c *Config) { c.ManagersThreshold = 0 }, ErrInvalidThreshold},
		{"threshold_above_managers", func(c *Config) { c.ManagersThreshold = 4 }, ErrInvalidThreshold},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := withParticipants()
			tc.modify(&cfg)
			err := ValidateConfig(cfg)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateConfig: got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateConfig_LogLevelCaseInsensitive(t *testing.T) {
	for _, level := range []string{"INFO", "Debug", "WARN", "Error", "dEbUg"} {
		t.Run(level, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LogLevel = level
			if err := ValidateConfig(cfg); err != nil {
				t.Errorf("ValidateConfig with LogLevel %q: %v", level, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Derived settings
// ---------------------------------------------------------------------------

func TestChainParams(t *testing.T) {
	tests := []struct {
		network string
		want    *chaincfg.Params
	}{
		{"mainnet", &chaincfg.MainNetParams},
		{"testnet", &chaincfg.TestNet3Params},
		{"regtest", &chaincfg.RegressionNetParams},
		{"signet", &chaincfg.SigNetParams},
	}
	for _, tc := range tests {
		t.Run(tc.network, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Network = tc.network
			got, err := cfg.ChainParams()
			if err != nil {
				t.Fatalf("ChainParams: %v", err)
			}
			if got != tc.want {
				t.Errorf("ChainParams = %s, want %s", got.Name, tc.want.Name)
			}
		})
	}
}

func TestDescriptors(t *testing.T) {
	cfg := withParticipants()
	set, err := cfg.Descriptors()
	if err != nil {
		t.Fatalf("Descriptors: %v", err)
	}
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if set.Unvault.CSV() != cfg.UnvaultCSV {
		t.Errorf("unvault CSV = %d, want %d", set.Unvault.CSV(), cfg.UnvaultCSV)
	}
	if got := descriptor.FormatKeys(set.FeeBump.Keys()); got != cfg.Managers {
		t.Errorf("fee-bump keys = %s, want the managers %s", got, cfg.Managers)
	}

	// Same settings, same scripts.
	again, err := cfg.Descriptors()
	if err != nil {
		t.Fatalf("Descriptors: %v", err)
	}
	if string(again.Unvault.PkScript()) != string(set.Unvault.PkScript()) {
		t.Error("descriptors are not deterministic")
	}
}

func TestDescriptorsMissingKeys(t *testing.T) {
	_, err := DefaultConfig().Descriptors()
	if !errors.Is(err, ErrMissingKeys) {
		t.Errorf("Descriptors without participants: got %v, want ErrMissingKeys", err)
	}

	cfg := withParticipants()
	cfg.Cosigners = ""
	if _, err := cfg.Descriptors(); err != nil {
		t.Errorf("cosigners are optional: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

func TestConfigPath(t *testing.T) {
	got := ConfigPath("/home/user/.revault")
	want := filepath.Join("/home/user/.revault", "config")
	if got != want {
		t.Errorf("ConfigPath = %q, want %q", got, want)
	}
}

func TestDefaultDataDir(t *testing.T) {
	if dir := DefaultDataDir(); !strings.HasSuffix(dir, ".revault") {
		t.Errorf("DefaultDataDir() = %q, want suffix %q", dir, ".revault")
	}
}
