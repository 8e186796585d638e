package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/reglet-dev/i2cgate/internal/infrastructure/system"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configDirName  = ".i2cgate"
	configFileName = "config.yaml"
	grantsFileName = "grants.yaml"
	envPrefix      = "I2CGATE"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the application entry point.
var rootCmd = &cobra.Command{
	Use:   "i2cgate",
	Short: "Run WebAssembly guests with mediated I2C bus access",
	Long: `i2cgate runs untrusted WebAssembly guests and mediates every I2C
transaction they make. Guests open a handle, and each read or write on
that handle is checked against the permissions granted to the guest
before it reaches the bus.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.i2cgate/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// initConfig binds environment overrides. The config file itself is parsed
// and schema-checked by system.ConfigLoader.
func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	// Using TextHandler for CLI friendliness
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// configDir returns ~/.i2cgate.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// systemConfigPath returns --config, I2CGATE_CONFIG or the default location.
func systemConfigPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	if p := viper.GetString("config"); p != "" {
		return p, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// loadSystemConfig loads the config file and applies flag and environment overrides.
func loadSystemConfig() (*system.Config, error) {
	path, err := systemConfigPath()
	if err != nil {
		return nil, err
	}

	cfg, err := system.NewConfigLoader().Load(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("loaded system config", "path", path)

	if err := applyOverrides(cfg, viper.GetViper()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies every key set by flag or environment onto cfg.
func applyOverrides(cfg *system.Config, v *viper.Viper) error {
	if v.IsSet("bus") {
		cfg.Bus = v.GetString("bus")
	}
	if v.IsSet("simulate") {
		cfg.Simulate = v.GetBool("simulate")
	}
	if v.IsSet("speed_hz") {
		cfg.SpeedHz = v.GetInt64("speed_hz")
	}
	if v.IsSet("max_transfer_bytes") {
		n := v.GetInt64("max_transfer_bytes")
		if n < 0 || n > system.MaxTransferLimit {
			return fmt.Errorf("invalid max transfer bytes: %d (must be 0-%d)", n, system.MaxTransferLimit)
		}
		cfg.MaxTransferBytes = uint32(n) //nolint:gosec // G115: bounded above
	}
	if v.IsSet("wasm_memory_limit_mb") {
		cfg.WasmMemoryLimitMB = v.GetInt("wasm_memory_limit_mb")
	}
	if v.IsSet("host_module") {
		cfg.HostModule = v.GetString("host_module")
	}
	if v.IsSet("default_access") {
		cfg.DefaultAccess = v.GetString("default_access")
	}
	if v.IsSet("grants_file") {
		cfg.GrantsFile = v.GetString("grants_file")
	}

	switch system.AccessLevel(cfg.DefaultAccess) {
	case system.AccessReadWrite, system.AccessReadOnly, system.AccessNone:
	default:
		return fmt.Errorf("invalid default access %q (valid: read-write, read-only, none)", cfg.DefaultAccess)
	}
	if cfg.SpeedHz < 0 {
		return fmt.Errorf("invalid bus speed: %d", cfg.SpeedHz)
	}
	return nil
}

// grantsPath returns the configured grants file or ~/.i2cgate/grants.yaml.
func grantsPath(cfg *system.Config) (string, error) {
	if cfg.GrantsFile != "" {
		return cfg.GrantsFile, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, grantsFileName), nil
}
