package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the granaryd daemon configuration. Loading a missing file
// writes the defaults back so a first boot leaves an editable config behind.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	GatewayAddress string `toml:"GatewayAddress"`
	DataDir        string `toml:"DataDir"`
	GenesisFile    string `toml:"GenesisFile"`
	NetworkName    string `toml:"NetworkName"`

	// RateModel selects the harvest stream's rate model: "smoothed" or
	// "depleting".
	RateModel string `toml:"RateModel"`

	// PrincipalToken and RewardToken name the staking and reward token
	// symbols the engine binds to. Both must be registered at genesis.
	PrincipalToken string `toml:"PrincipalToken"`
	RewardToken    string `toml:"RewardToken"`

	// RPCTokenEnv names the environment variable holding the bearer token
	// required by mutating RPC methods.
	RPCTokenEnv string `toml:"RPCTokenEnv"`

	Logging   LoggingConfig   `toml:"Logging"`
	Gateway   GatewayConfig   `toml:"Gateway"`
	Telemetry TelemetryConfig `toml:"Telemetry"`
}

// LoggingConfig shapes the slog JSON output and the optional rotating file
// sink.
type LoggingConfig struct {
	Env        string `toml:"Env"`
	Directory  string `toml:"Directory"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// GatewayConfig shapes the ops router.
type GatewayConfig struct {
	AuthEnabled       bool    `toml:"AuthEnabled"`
	JWTSecretEnv      string  `toml:"JWTSecretEnv"`
	JWTIssuer         string  `toml:"JWTIssuer"`
	JWTAudience       string  `toml:"JWTAudience"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// TelemetryConfig shapes the optional OTLP exporters.
type TelemetryConfig struct {
	Enabled     bool    `toml:"Enabled"`
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	ServiceName string  `toml:"ServiceName"`
	Environment string  `toml:"Environment"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Load reads the configuration from path, creating a default file when none
// exists. Unknown keys are rejected so typos surface at boot instead of
// silently falling back to defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir required")
	}
	switch c.RateModel {
	case "smoothed", "depleting":
	default:
		return fmt.Errorf("RateModel must be smoothed or depleting, got %q", c.RateModel)
	}
	if c.Gateway.AuthEnabled && strings.TrimSpace(c.Gateway.JWTSecretEnv) == "" {
		return fmt.Errorf("Gateway.JWTSecretEnv required when Gateway.AuthEnabled is set")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "granary-local"
	}
	if strings.TrimSpace(c.RateModel) == "" {
		c.RateModel = "smoothed"
	}
	if strings.TrimSpace(c.RPCTokenEnv) == "" {
		c.RPCTokenEnv = "GRANARY_RPC_TOKEN"
	}
	c.PrincipalToken = strings.ToUpper(strings.TrimSpace(c.PrincipalToken))
	if c.PrincipalToken == "" {
		c.PrincipalToken = "GRN"
	}
	c.RewardToken = strings.ToUpper(strings.TrimSpace(c.RewardToken))
	if c.RewardToken == "" {
		c.RewardToken = "HRV"
	}
	if strings.TrimSpace(c.Logging.Env) == "" {
		c.Logging.Env = "local"
	}
	if c.Gateway.RequestsPerMinute <= 0 {
		c.Gateway.RequestsPerMinute = 600
	}
	if c.Gateway.Burst <= 0 {
		c.Gateway.Burst = 20
	}
}

// JournalPath returns the event journal location under the data directory.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// HistoryPath returns the reward history archive location under the data
// directory.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// StatePath returns the LevelDB state directory under the data directory.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state")
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8645",
		GatewayAddress: ":8646",
		DataDir:        "./granary-data",
		GenesisFile:    "genesis.yaml",
		NetworkName:    "granary-local",
		RateModel:      "smoothed",
		PrincipalToken: "GRN",
		RewardToken:    "HRV",
		RPCTokenEnv:    "GRANARY_RPC_TOKEN",
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
