// Package cli provides the cobra/viper configuration helpers used by the
// kbuilder command tree.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bitswalk/kbuilder/src/common/logs"
	"github.com/bitswalk/kbuilder/src/common/paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// KernelConfigName is the per-kernel configuration file read from the
// kernel source root.
const KernelConfigName = ".kbuilder.yaml"

// ConfigOptions holds options for configuration initialization
type ConfigOptions struct {
	// ConfigFile is the path to the config file (if specified via flag)
	ConfigFile string

	// ConfigName is the name of the config file (without extension)
	ConfigName string

	// ConfigType is the type of config file (yaml, json, toml)
	ConfigType string

	// EnvPrefix is the prefix for environment variables (KBUILDER -> KBUILDER_MAKE_JOBS)
	EnvPrefix string

	// SearchPaths are the directories searched for the config file
	SearchPaths []string
}

// DefaultConfigOptions returns default configuration options
func DefaultConfigOptions(configName, envPrefix string) ConfigOptions {
	return ConfigOptions{
		ConfigName: configName,
		ConfigType: "yaml",
		EnvPrefix:  envPrefix,
		SearchPaths: []string{
			"/etc/kbuilder",
			"$HOME/.config/kbuilder",
		},
	}
}

// InitConfig loads the user configuration into viper and binds
// environment variables. A missing config file is not an error.
func InitConfig(opts ConfigOptions) error {
	if opts.ConfigFile != "" {
		viper.SetConfigFile(paths.Expand(opts.ConfigFile))
	} else {
		viper.SetConfigName(opts.ConfigName)
		viper.SetConfigType(opts.ConfigType)

		for _, searchPath := range opts.SearchPaths {
			viper.AddConfigPath(paths.Expand(searchPath))
		}
	}

	if opts.EnvPrefix != "" {
		viper.SetEnvPrefix(opts.EnvPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// MergeKernelConfig merges <root>/.kbuilder.yaml over the loaded
// configuration. Returns false when the kernel has no config file.
func MergeKernelConfig(root string) (bool, error) {
	path := filepath.Join(root, KernelConfigName)
	if !paths.IsFile(path) {
		return false, nil
	}

	local := viper.New()
	local.SetConfigFile(path)
	local.SetConfigType("yaml")
	if err := local.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("error reading %s: %w", path, err)
	}

	if err := viper.MergeConfigMap(local.AllSettings()); err != nil {
		return false, fmt.Errorf("error merging %s: %w", path, err)
	}
	return true, nil
}

// RegisterLogFlags registers the logging flags as persistent flags on cmd
func RegisterLogFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-output", "stderr", "Log output destination (auto, stdout, stderr, journald)")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	_ = BindPersistentFlag(cmd, "log-output", "log.output")
	_ = BindPersistentFlag(cmd, "log-level", "log.level")

	viper.SetDefault("log.output", "stderr")
	viper.SetDefault("log.level", "info")
}

// RegisterConfigFlag registers the --config flag on a Cobra command
func RegisterConfigFlag(cmd *cobra.Command, cfgFile *string, defaultPath string) {
	cmd.PersistentFlags().StringVar(cfgFile, "config", "", fmt.Sprintf("config file (default: %s)", defaultPath))
}

// InitLogger creates a logger from the log.* keys. Call after InitConfig.
func InitLogger(prefix string) *logs.Logger {
	return logs.New(logs.Config{
		Output: logs.LogOutput(viper.GetString("log.output")),
		Level:  viper.GetString("log.level"),
		Prefix: prefix,
	})
}

// BindFlag binds a Cobra flag to a Viper config key
func BindFlag(cmd *cobra.Command, flagName, viperKey string) error {
	return viper.BindPFlag(viperKey, cmd.Flags().Lookup(flagName))
}

// BindPersistentFlag binds a Cobra persistent flag to a Viper config key
func BindPersistentFlag(cmd *cobra.Command, flagName, viperKey string) error {
	return viper.BindPFlag(viperKey, cmd.PersistentFlags().Lookup(flagName))
}

// GetExpandedString gets a string from Viper and expands path prefixes
func GetExpandedString(key string) string {
	return paths.Expand(viper.GetString(key))
}
