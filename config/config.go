// Package config loads qctl and estimator settings from YAML. Values missing
// from the file keep their defaults; command-line flags override both.
package config

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/perclft/sshqpe/circuit"
	"github.com/perclft/sshqpe/errdefs"
	"github.com/perclft/sshqpe/evolution"
	"github.com/perclft/sshqpe/lattice"
	"github.com/perclft/sshqpe/noise"
	"github.com/perclft/sshqpe/pipeline"
)

type Config struct {
	Run    RunConfig    `yaml:"run"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// RunConfig is the file form of pipeline.Spec.
type RunConfig struct {
	Lattice          lattice.Parameters `yaml:"lattice"`
	EvaluationQubits int                `yaml:"evaluation_qubits"`
	Duration         float64            `yaml:"evolution_time"`
	Order            string             `yaml:"trotter_order"`
	Steps            int                `yaml:"trotter_steps"`
	Shots            int                `yaml:"shots"`
	Seed             *int64             `yaml:"seed,omitempty"`
	Initial          string             `yaml:"initial_state"`
	Noise            *noise.ChannelSpec `yaml:"noise,omitempty"`
	TopK             int                `yaml:"top_k"`
	Reference        string             `yaml:"reference"`
	Workers          int                `yaml:"workers"`
	Backend          string             `yaml:"backend"` // executor name, "local" by default
	SweepRates       []float64          `yaml:"sweep_rates"`
}

type ServerConfig struct {
	Listen        string         `yaml:"listen"`
	MetricsListen string         `yaml:"metrics_listen"`
	RedisAddr     string         `yaml:"redis_addr"` // empty: in-process cache
	CacheTTL      time.Duration  `yaml:"cache_ttl"`
	Database      DatabaseConfig `yaml:"database"`
}

// DatabaseConfig selects the run registry. An empty driver disables it.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite3" or "postgres"
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default mirrors pipeline.DefaultSpec.
func Default() Config {
	spec := pipeline.DefaultSpec()
	return Config{
		Run: RunConfig{
			Lattice:          spec.Lattice,
			EvaluationQubits: spec.EvaluationQubits,
			Duration:         spec.Duration,
			Order:            spec.Order.String(),
			Steps:            spec.Steps,
			Shots:            spec.Shots,
			Initial:          string(circuit.InitialZero),
			TopK:             spec.TopK,
			Reference:        string(spec.Reference),
			Backend:          "local",
			SweepRates:       append([]float64(nil), pipeline.DefaultSweepRates...),
		},
		Server: ServerConfig{
			Listen:        ":50051",
			MetricsListen: ":9090",
			CacheTTL:      time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. Unknown keys are an error. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "open config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// Spec converts the run section.
func (r RunConfig) Spec() (pipeline.Spec, error) {
	order, err := evolution.ParseOrder(r.Order)
	if err != nil {
		return pipeline.Spec{}, err
	}
	initial, err := circuit.ParseInitial(r.Initial, r.Lattice.NumSites())
	if err != nil {
		return pipeline.Spec{}, err
	}
	spec := pipeline.Spec{
		Lattice:          r.Lattice,
		EvaluationQubits: r.EvaluationQubits,
		Duration:         r.Duration,
		Order:            order,
		Steps:            r.Steps,
		Shots:            r.Shots,
		Seed:             r.Seed,
		Initial:          initial,
		Noise:            r.Noise,
		TopK:             r.TopK,
		Reference:        pipeline.ReferenceKind(r.Reference),
		Workers:          r.Workers,
	}
	return spec, spec.Validate()
}

func (c Config) Validate() error {
	if _, err := c.Run.Spec(); err != nil {
		return errors.Wrap(err, "run")
	}
	for _, rate := range c.Run.SweepRates {
		if rate < 0 || rate > 1 {
			return errdefs.InvalidParameter("sweep_rates", rate, "must be within [0, 1]")
		}
	}
	if c.Run.Backend == "" {
		return errdefs.InvalidParameter("backend", c.Run.Backend, "must name an executor backend")
	}
	switch c.Server.Database.Driver {
	case "", "sqlite3", "postgres":
	default:
		return errdefs.InvalidParameter("database.driver", c.Server.Database.Driver, "must be sqlite3 or postgres")
	}
	if c.Server.CacheTTL < 0 {
		return errdefs.InvalidParameter("cache_ttl", c.Server.CacheTTL, "must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errdefs.InvalidParameter("log.level", c.Log.Level, "unknown level")
	}
	return nil
}

// NewLogger builds the process logger. Output goes to stderr.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errdefs.InvalidParameter("log.level", c.Level, "unknown level")
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
