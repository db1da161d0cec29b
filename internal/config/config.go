package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/driftwatch/internal/concept"
	"github.com/sells-group/driftwatch/internal/decision"
	"github.com/sells-group/driftwatch/internal/ingest"
	"github.com/sells-group/driftwatch/internal/monitoring"
	"github.com/sells-group/driftwatch/internal/stability"
	"github.com/sells-group/driftwatch/internal/store"
	"github.com/sells-group/driftwatch/internal/window"
	"github.com/sells-group/driftwatch/internal/workflow"
)

// Config holds the full application configuration. Every threshold, bucket
// count, and window span is a tunable here; nothing numeric is hardcoded in
// the component packages.
type Config struct {
	Store     StoreConfig       `yaml:"store" mapstructure:"store"`
	Window    window.Config     `yaml:"window" mapstructure:"window"`
	Stability stability.Config  `yaml:"stability" mapstructure:"stability"`
	Concept   concept.Config    `yaml:"concept" mapstructure:"concept"`
	Decision  decision.Config   `yaml:"decision" mapstructure:"decision"`
	Check     workflow.Config   `yaml:"check" mapstructure:"check"`
	Ingest    ingest.Config     `yaml:"ingest" mapstructure:"ingest"`
	Temporal  TemporalConfig    `yaml:"temporal" mapstructure:"temporal"`
	Server    ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitor   monitoring.Config `yaml:"monitoring" mapstructure:"monitoring"`
	Log       LogConfig         `yaml:"log" mapstructure:"log"`

	// PolicyFile optionally overrides the decision thresholds from a
	// standalone YAML policy file.
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// TemporalConfig configures the Temporal client.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DRIFTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "driftwatch.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")

	v.SetDefault("window.observation_days", 10)
	v.SetDefault("window.prediction_days", 3)
	v.SetDefault("window.target_event", "purchase")

	v.SetDefault("stability.buckets", 10)
	v.SetDefault("stability.strategy", string(stability.StrategyEqualFrequency))

	v.SetDefault("concept.baseline_lookback", 30)

	v.SetDefault("decision.psi_strong", 0.2)
	v.SetDefault("decision.psi_weak", 0.1)
	v.SetDefault("decision.correlation_strong_floor", 0.1)
	v.SetDefault("decision.correlation_weak_floor", 0.3)
	v.SetDefault("decision.recall_drop_strong", 0.2)
	v.SetDefault("decision.recall_drop_weak", 0.1)
	v.SetDefault("decision.label_shift_strong", 0.2)
	v.SetDefault("decision.label_shift_weak", 0.1)
	v.SetDefault("decision.weight_by_importance", true)
	v.SetDefault("decision.top_n", 40)

	v.SetDefault("check.snapshot_tag", "baseline")
	v.SetDefault("check.metric", "recall_at_k")
	v.SetDefault("check.label_rate_metric", "label_rate")
	v.SetDefault("check.current_period_days", 14)
	v.SetDefault("check.top_k", 100)
	v.SetDefault("check.parallelism", 8)

	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.stale_after_hours", 48)

	v.SetDefault("ingest.batch_size", 500)
	v.SetDefault("ingest.batches_per_sec", 10)
	v.SetDefault("ingest.burst", 2)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// An external policy file wins over viper-sourced thresholds.
	if cfg.PolicyFile != "" {
		policy, err := decision.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.Decision = policy
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
