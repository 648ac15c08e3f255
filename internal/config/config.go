// Package config loads and validates plotmon configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/plotmon/internal/discovery"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Sampler   SamplerConfig   `mapstructure:"sampler"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	API       APIConfig       `mapstructure:"api"`
	// LogDir is the default directory selector when none is given on the
	// command line. Empty selects every active job.
	LogDir string `mapstructure:"log_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DiscoveryConfig tunes how plot sessions and workers are recognised.
type DiscoveryConfig struct {
	ProcMount      string `mapstructure:"proc_mount"`
	SessionName    string `mapstructure:"session_name"`
	Invocation     string `mapstructure:"invocation"`
	CommandSegment int    `mapstructure:"command_segment"`
	NameFlag       string `mapstructure:"name_flag"`
	WorkerName     string `mapstructure:"worker_name"`
	MatchArg       string `mapstructure:"match_arg"`
}

// SamplerConfig controls resource sampling in watch mode.
type SamplerConfig struct {
	IntervalMs int `mapstructure:"interval_ms"`
	TimeoutMs  int `mapstructure:"timeout_ms"`
}

// PipelineConfig sizes the role mailboxes and the presentation hub.
type PipelineConfig struct {
	MailboxDepth   int `mapstructure:"mailbox_depth"`
	HubBuffer      int `mapstructure:"hub_buffer"`
	SinkTimeoutSec int `mapstructure:"sink_timeout_seconds"`
}

// APIConfig enables the status server in watch mode. An empty Addr disables it.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PLOTMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	match := discovery.DefaultMatchConfig()
	v.SetDefault("logging.development", false)
	v.SetDefault("discovery.proc_mount", "/proc")
	v.SetDefault("discovery.session_name", match.SessionName)
	v.SetDefault("discovery.invocation", match.Invocation)
	v.SetDefault("discovery.command_segment", match.CommandSegment)
	v.SetDefault("discovery.name_flag", match.NameFlag)
	v.SetDefault("discovery.worker_name", match.WorkerName)
	v.SetDefault("discovery.match_arg", match.MatchArg)
	v.SetDefault("sampler.interval_ms", 1000)
	v.SetDefault("sampler.timeout_ms", 500)
	v.SetDefault("pipeline.mailbox_depth", 64)
	v.SetDefault("pipeline.hub_buffer", 1024)
	v.SetDefault("pipeline.sink_timeout_seconds", 5)
	v.SetDefault("api.addr", "")
	v.SetDefault("log_dir", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Discovery.SessionName == "" {
		return fmt.Errorf("discovery.session_name must be set")
	}
	if c.Discovery.Invocation == "" {
		return fmt.Errorf("discovery.invocation must be set")
	}
	if c.Discovery.CommandSegment <= 0 {
		return fmt.Errorf("discovery.command_segment must be > 0")
	}
	if c.Sampler.IntervalMs <= 0 {
		return fmt.Errorf("sampler.interval_ms must be > 0")
	}
	if c.Sampler.TimeoutMs <= 0 || c.Sampler.TimeoutMs > c.Sampler.IntervalMs {
		return fmt.Errorf("sampler.timeout_ms must be in (0, sampler.interval_ms]")
	}
	if c.Pipeline.MailboxDepth <= 0 {
		return fmt.Errorf("pipeline.mailbox_depth must be > 0")
	}
	return nil
}

// MatchConfig converts the discovery settings for the screen matcher.
func (c Config) MatchConfig() discovery.MatchConfig {
	return discovery.MatchConfig{
		SessionName:    c.Discovery.SessionName,
		Invocation:     c.Discovery.Invocation,
		CommandSegment: c.Discovery.CommandSegment,
		NameFlag:       c.Discovery.NameFlag,
		WorkerName:     c.Discovery.WorkerName,
		MatchArg:       c.Discovery.MatchArg,
	}
}

// SampleInterval is the resource sampling period.
func (c Config) SampleInterval() time.Duration {
	return time.Duration(c.Sampler.IntervalMs) * time.Millisecond
}

// SampleTimeout bounds one sampling cycle.
func (c Config) SampleTimeout() time.Duration {
	return time.Duration(c.Sampler.TimeoutMs) * time.Millisecond
}

// SinkTimeout bounds each sink call made by the progress hub.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Pipeline.SinkTimeoutSec) * time.Second
}
