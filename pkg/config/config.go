// Package config loads run settings from config.yaml and CFPOV_* environment
// variables and sets up the global logger.
package config

import (
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full run configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Coverage CoverageConfig `yaml:"coverage" mapstructure:"coverage"`
	MPI      MPIConfig      `yaml:"mpi" mapstructure:"mpi"`
	PostGIS  PostGISConfig  `yaml:"postgis" mapstructure:"postgis"`
	Workers  int            `yaml:"workers" mapstructure:"workers"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PathsConfig names the input layers and the output directory.
type PathsConfig struct {
	Forests   string   `yaml:"forests" mapstructure:"forests"`
	Clusters  []string `yaml:"clusters" mapstructure:"clusters"`
	Microdata string   `yaml:"microdata" mapstructure:"microdata"`
	Output    string   `yaml:"output" mapstructure:"output"`
	Index     string   `yaml:"index" mapstructure:"index"`
}

// CoverageConfig configures cluster counting around forests.
type CoverageConfig struct {
	Radius           float64 `yaml:"radius" mapstructure:"radius"`
	Years            []int   `yaml:"years" mapstructure:"years"`
	Class            string  `yaml:"class" mapstructure:"class"`
	DuplicateDecimal int     `yaml:"duplicate_decimal" mapstructure:"duplicate_decimal"`
}

// MPIConfig configures poverty estimation.
type MPIConfig struct {
	Scheme     string  `yaml:"scheme" mapstructure:"scheme"`
	Cutoff     float64 `yaml:"cutoff" mapstructure:"cutoff"`
	Confidence float64 `yaml:"confidence" mapstructure:"confidence"`
	Unit       string  `yaml:"unit" mapstructure:"unit"`
}

// PostGISConfig holds the cross-check database connection.
type PostGISConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CFPOV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("paths.forests", "data/community_forests.shp")
	v.SetDefault("paths.clusters", []string{})
	v.SetDefault("paths.microdata", "data/microdata.csv")
	v.SetDefault("paths.output", "out")
	v.SetDefault("paths.index", "out/clusters.gob")
	v.SetDefault("coverage.radius", 20000.0)
	v.SetDefault("coverage.years", []int{2000, 2005, 2010, 2014})
	v.SetDefault("coverage.class", "R")
	v.SetDefault("coverage.duplicate_decimal", 1)
	v.SetDefault("mpi.scheme", "")
	v.SetDefault("mpi.cutoff", 1.0/3.0)
	v.SetDefault("mpi.confidence", 0.95)
	v.SetDefault("mpi.unit", "cluster")
	v.SetDefault("postgis.dsn", "")
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no analysis can run with.
func (c *Config) Validate() error {
	if c.Coverage.Radius < 0 {
		return eris.Errorf("config: coverage.radius %v is negative", c.Coverage.Radius)
	}
	if len(c.Coverage.Years) == 0 {
		return eris.New("config: coverage.years is empty")
	}
	switch c.Coverage.Class {
	case "", "R", "U":
	default:
		return eris.Errorf("config: coverage.class %q is not R, U or empty", c.Coverage.Class)
	}
	if c.Coverage.DuplicateDecimal < 0 {
		return eris.Errorf("config: coverage.duplicate_decimal %d is negative", c.Coverage.DuplicateDecimal)
	}
	if c.MPI.Cutoff <= 0 || c.MPI.Cutoff > 1 {
		return eris.Errorf("config: mpi.cutoff %v is outside (0, 1]", c.MPI.Cutoff)
	}
	if c.MPI.Confidence <= 0 || c.MPI.Confidence >= 1 {
		return eris.Errorf("config: mpi.confidence %v is outside (0, 1)", c.MPI.Confidence)
	}
	switch c.MPI.Unit {
	case "cluster", "region", "national":
	default:
		return eris.Errorf("config: mpi.unit %q is not cluster, region or national", c.MPI.Unit)
	}
	if c.Workers < 1 {
		c.Workers = 1
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
