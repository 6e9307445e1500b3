package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/memorial-cli/internal/coord"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Projection ProjectionConfig `yaml:"projection" mapstructure:"projection"`
	Correct    CorrectConfig    `yaml:"correct" mapstructure:"correct"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the marker store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`

	// ConnectAttempts bounds retries while the database is unreachable.
	ConnectAttempts int `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

// ExtractConfig configures document extraction.
type ExtractConfig struct {
	NumberFormat string `yaml:"number_format" mapstructure:"number_format"`
	RulesFile    string `yaml:"rules_file" mapstructure:"rules_file"`
	Concurrency  int    `yaml:"concurrency" mapstructure:"concurrency"`
	// SeparateLocal reports local-grid pairs as LOCAL_VALID.
	SeparateLocal bool `yaml:"separate_local" mapstructure:"separate_local"`
}

// ProjectionConfig selects the SIRGAS2000 / UTM zone coordinates are
// normalized into.
type ProjectionConfig struct {
	Zone  int  `yaml:"zone" mapstructure:"zone"`
	South bool `yaml:"south" mapstructure:"south"`
}

// CorrectConfig holds the audit fields written by the batch corrector.
type CorrectConfig struct {
	Operator string `yaml:"operator" mapstructure:"operator"`
	Reason   string `yaml:"reason" mapstructure:"reason"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
// Environment variables take precedence over the file.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MEMORIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "memorial.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.connect_attempts", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("extract.number_format", string(coord.FormatAuto))
	v.SetDefault("extract.rules_file", "")
	v.SetDefault("extract.concurrency", 4)
	v.SetDefault("extract.separate_local", false)
	v.SetDefault("projection.zone", 22)
	v.SetDefault("projection.south", true)
	v.SetDefault("correct.operator", defaultOperator())
	v.SetDefault("correct.reason", "")

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

	return &cfg, nil
}

func defaultOperator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "memorial-cli"
}

// Validate checks the settings needed by mode: "extract" or "markers".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "extract":
		if c.Extract.Concurrency < 1 || c.Extract.Concurrency > 64 {
			errs = append(errs, "extract.concurrency must be between 1 and 64")
		}
		if _, err := coord.ParseNumberFormat(c.Extract.NumberFormat); err != nil {
			errs = append(errs, "extract.number_format must be auto, comma or dot")
		}
	case "markers":
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Projection.Zone < 1 || c.Projection.Zone > 60 {
		errs = append(errs, "projection.zone must be between 1 and 60")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
