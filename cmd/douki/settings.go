package main

import (
	"fmt"
	"strings"

	"github.com/edwinsyarief/douki"
	"github.com/edwinsyarief/douki/internal/logging"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settings is the resolved runtime configuration of one command.
type settings struct {
	log logr.Logger
	cfg douki.Config
}

// loadSettings merges, lowest first: defaults, the --config file, DOUKI_*
// environment variables and command-line flags.
func loadSettings(cmd *cobra.Command) (settings, error) {
	v := viper.New()
	v.SetEnvPrefix("DOUKI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return settings{}, fmt.Errorf("bind flags: %w", err)
	}

	cfg := douki.DefaultConfig()
	setConfigDefaults(v, cfg)
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return settings{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return settings{}, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logging.NewLogger(v.GetString("log-level"), v.GetBool("dev"))
	if err != nil {
		return settings{}, err
	}
	return settings{cfg: cfg, log: log}, nil
}

// setConfigDefaults registers every Config key with v. AutomaticEnv only
// resolves keys viper already knows, so DOUKI_BUFFERLEADSECONDS or
// DOUKI_VELOCITYFALLBACK_BITS are ignored without this.
func setConfigDefaults(v *viper.Viper, cfg douki.Config) {
	v.SetDefault("bufferLeadSeconds", cfg.BufferLeadSeconds)
	v.SetDefault("ringMinCapacity", cfg.RingMinCapacity)
	v.SetDefault("fixedDeltaSeconds", cfg.FixedDeltaSeconds)
	v.SetDefault("atRestAfterSeconds", cfg.AtRestAfterSeconds)
	v.SetDefault("poolCapacity", cfg.PoolCapacity)
	v.SetDefault("returnQueueCapacity", cfg.ReturnQueueCapacity)
	v.SetDefault("localAuthorityID", cfg.LocalAuthorityID)
	v.SetDefault("velocityFallback.lower", cfg.VelocityFallback.Lower)
	v.SetDefault("velocityFallback.upper", cfg.VelocityFallback.Upper)
	v.SetDefault("velocityFallback.bits", cfg.VelocityFallback.Bits)
}
