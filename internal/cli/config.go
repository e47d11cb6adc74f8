package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "OPTEE_FTRACE"

const (
	FormatText   = "text"
	FormatFolded = "folded"
	FormatPprof  = "pprof"
	FormatOtlp   = "otlp"
)

var formats = []string{FormatText, FormatFolded, FormatPprof, FormatOtlp}

type Config struct {
	TraceFile     string   `mapstructure:"-"`
	ELF           []string `mapstructure:"elf"`
	Format        string   `mapstructure:"format"`
	Output        string   `mapstructure:"output"`
	OtlpEndpoint  string   `mapstructure:"otlp-endpoint"`
	CacheSize     int      `mapstructure:"cache-size"`
	Workers       int      `mapstructure:"workers"`
	FillDepthGaps bool     `mapstructure:"fill-depth-gaps"`
	LogLevel      string   `mapstructure:"log-level"`
	ConfigFile    string   `mapstructure:"config"`
}

func (c *Config) Validate() error {
	if c.TraceFile == "" {
		return errors.New("trace file must be set")
	}
	if !isKnownFormat(c.Format) {
		return fmt.Errorf("unknown format %q; must be one of %s", c.Format, strings.Join(formats, ", "))
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("invalid cache-size %d; must be > 0", c.CacheSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("invalid workers %d; must be > 0", c.Workers)
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Format {
	case FormatPprof:
		if c.Output == "" {
			return errors.New("pprof format requires --output")
		}
	case FormatOtlp:
		if c.Output == "" && c.OtlpEndpoint == "" {
			return errors.New("otlp format requires --output or --otlp-endpoint")
		}
	}
	return nil
}

func isKnownFormat(f string) bool {
	for _, known := range formats {
		if f == known {
			return true
		}
	}
	return false
}

func parseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q: %w", s, err)
	}
	return lvl, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	return v
}

// loadConfig merges flags, environment and the optional config file into
// a Config. Flags set on the command line win over the environment, which
// wins over the config file.
func loadConfig(cmd *cobra.Command, vpr *viper.Viper, args []string) (*Config, error) {
	if err := vpr.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if path := vpr.GetString("config"); path != "" {
		vpr.SetConfigFile(path)
		if err := vpr.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("loading configuration file: %w", err)
		}
	}

	cfg := &Config{}
	if err := vpr.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if len(args) > 0 {
		cfg.TraceFile = args[0]
	}
	return cfg, nil
}
