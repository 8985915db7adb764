// Package config loads the decision engine configuration from defaults, an optional
// YAML file and HYBRID_* environment overrides, then validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
)

// #region config

// Config is the full recognized option surface.
type Config struct {
	Safety    SafetyConfig    `yaml:"safety"`
	Heuristic HeuristicConfig `yaml:"heuristic"`
	Features  FeatureConfig   `yaml:"features"`
	Reservoir ReservoirConfig `yaml:"reservoir"`
	Neural    NeuralConfig    `yaml:"neural"`
	Training  TrainingConfig  `yaml:"training"`
	Session   SessionConfig   `yaml:"session"`
	Store     StoreConfig     `yaml:"store"`
	Encoder   EncoderConfig   `yaml:"encoder"`
}

type SafetyConfig struct {
	MaxQueryLength int `yaml:"max_query_length" validate:"gte=0"`
}

// HeuristicConfig holds the rule-table thresholds and fixed confidences.
type HeuristicConfig struct {
	LongQueryChars    int      `yaml:"long_query_chars" validate:"gt=0"`
	ShortQueryChars   int      `yaml:"short_query_chars" validate:"gt=0,ltfield=LongQueryChars"`
	HighPriority      int      `yaml:"high_priority" validate:"gte=0,lte=10"`
	Keywords          []string `yaml:"keywords" validate:"dive,required"`
	LongConfidence    float32  `yaml:"long_confidence" validate:"gte=0,lte=1"`
	KeywordConfidence float32  `yaml:"keyword_confidence" validate:"gte=0,lte=1"`
	ShortConfidence   float32  `yaml:"short_confidence" validate:"gte=0,lte=1"`
	HybridConfidence  float32  `yaml:"hybrid_confidence" validate:"gte=0,lte=1"`
	LocalConfidence   float32  `yaml:"local_confidence" validate:"gte=0,lte=1"`
}

// FeatureConfig fixes the vector layout. TextBand is whatever remains of Dimension
// after the fixed lexical, categorical and temporal bands.
type FeatureConfig struct {
	Dimension int `yaml:"dimension" validate:"gte=32"`
}

type ReservoirConfig struct {
	Size           int     `yaml:"size" validate:"gt=0"`
	LeakRate       float64 `yaml:"leak_rate" validate:"gt=0,lte=1"`
	SpectralRadius float64 `yaml:"spectral_radius" validate:"gt=0,lt=1"`
	Sparsity       float64 `yaml:"sparsity" validate:"gt=0,lte=1"`
	InputScaling   float64 `yaml:"input_scaling" validate:"gt=0"`
	OutputSize     int     `yaml:"output_size" validate:"gte=0"`
	Seed           uint64  `yaml:"seed"`
}

type NeuralConfig struct {
	Enabled bool   `yaml:"enabled"`
	Hidden1 int    `yaml:"hidden1" validate:"gt=0"`
	Hidden2 int    `yaml:"hidden2" validate:"gt=0"`
	Model   string `yaml:"model" validate:"required"`
	Seed    uint64 `yaml:"seed"`
}

type TrainingConfig struct {
	LearningRate    float64 `yaml:"learning_rate" validate:"gt=0"`
	Epochs          int     `yaml:"epochs" validate:"gt=0"`
	BatchSize       int     `yaml:"batch_size" validate:"gt=0"`
	Patience        int     `yaml:"patience" validate:"gt=0"`
	L2              float64 `yaml:"l2" validate:"gte=0"`
	ValidationSplit float64 `yaml:"validation_split" validate:"gte=0,lt=1"`
	TestSplit       float64 `yaml:"test_split" validate:"gte=0,lt=1"`
	Folds           int     `yaml:"folds" validate:"gte=2"`
	RidgeLambda     float64 `yaml:"ridge_lambda" validate:"gte=0"`
	Seed            uint64  `yaml:"seed"`
	MinAccuracy     float64 `yaml:"min_accuracy" validate:"gte=0,lte=1"`
}

type SessionConfig struct {
	HistoryCap     int    `yaml:"history_cap" validate:"gt=0"`
	DefaultProject string `yaml:"default_project" validate:"required"`
	ContextWindow  int    `yaml:"context_window" validate:"gte=0"`

	// MaxResponseChars truncates recorded responses; 0 keeps them whole.
	MaxResponseChars int `yaml:"max_response_chars" validate:"gte=0"`
}

type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// EncoderConfig selects the text band source. An empty Addr means the
// in-process hashed bag-of-words encoder.
type EncoderConfig struct {
	Addr      string `yaml:"addr"`
	TimeoutMs int    `yaml:"timeout_ms" validate:"gte=0"`
}

// #endregion config

// #region defaults

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Safety: SafetyConfig{MaxQueryLength: 5000},
		Heuristic: HeuristicConfig{
			LongQueryChars:    500,
			ShortQueryChars:   50,
			HighPriority:      7,
			Keywords:          []string{"prove", "verify", "formal", "complex"},
			LongConfidence:    0.9,
			KeywordConfidence: 0.85,
			ShortConfidence:   0.8,
			HybridConfidence:  0.7,
			LocalConfidence:   0.7,
		},
		Features: FeatureConfig{Dimension: 384},
		Reservoir: ReservoirConfig{
			Size:           500,
			LeakRate:       0.7,
			SpectralRadius: 0.95,
			Sparsity:       0.1,
			InputScaling:   1.0,
			OutputSize:     64,
			Seed:           42,
		},
		Neural: NeuralConfig{
			Enabled: true,
			Hidden1: 128,
			Hidden2: 64,
			Model:   "router-v1",
			Seed:    7,
		},
		Training: TrainingConfig{
			LearningRate:    0.01,
			Epochs:          100,
			BatchSize:       32,
			Patience:        10,
			L2:              0.001,
			ValidationSplit: 0.15,
			TestSplit:       0.15,
			Folds:           5,
			RidgeLambda:     1e-3,
			Seed:            42,
			MinAccuracy:     0.6,
		},
		Session: SessionConfig{
			HistoryCap:     1000,
			DefaultProject: "default",
			ContextWindow:  10,
		},
		Store:   StoreConfig{Path: "hybrid.db"},
		Encoder: EncoderConfig{TimeoutMs: 2000},
	}
}

// #endregion defaults

// #region load

// Load builds a Config from defaults, the YAML file at path (skipped when empty)
// and environment overrides, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, herr.Wrap(err, herr.KindInvalidArgument, "parse config")
		}
	}
	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field constraints.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return herr.Wrap(err, herr.KindInvalidArgument, "validate config")
	}
	if cfg.Training.ValidationSplit+cfg.Training.TestSplit >= 1 {
		return herr.InvalidArgf("validation_split + test_split must be < 1, got %.2f",
			cfg.Training.ValidationSplit+cfg.Training.TestSplit)
	}
	return nil
}

// #endregion load

// #region env

// envBinding maps one environment variable onto a config field.
type envBinding struct {
	key string
	set func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{"HYBRID_STORE_PATH", func(c *Config, v string) error { c.Store.Path = v; return nil }},
	{"HYBRID_ENCODER_ADDR", func(c *Config, v string) error { c.Encoder.Addr = v; return nil }},
	{"HYBRID_MODEL", func(c *Config, v string) error { c.Neural.Model = v; return nil }},
	{"HYBRID_DEFAULT_PROJECT", func(c *Config, v string) error { c.Session.DefaultProject = v; return nil }},
	{"HYBRID_HISTORY_CAP", intSetter(func(c *Config) *int { return &c.Session.HistoryCap })},
	{"HYBRID_MAX_RESPONSE_CHARS", intSetter(func(c *Config) *int { return &c.Session.MaxResponseChars })},
	{"HYBRID_RESERVOIR_SIZE", intSetter(func(c *Config) *int { return &c.Reservoir.Size })},
	{"HYBRID_FEATURE_DIM", intSetter(func(c *Config) *int { return &c.Features.Dimension })},
	{"HYBRID_EPOCHS", intSetter(func(c *Config) *int { return &c.Training.Epochs })},
	{"HYBRID_BATCH_SIZE", intSetter(func(c *Config) *int { return &c.Training.BatchSize })},
	{"HYBRID_PATIENCE", intSetter(func(c *Config) *int { return &c.Training.Patience })},
	{"HYBRID_LEAK_RATE", floatSetter(func(c *Config) *float64 { return &c.Reservoir.LeakRate })},
	{"HYBRID_SPECTRAL_RADIUS", floatSetter(func(c *Config) *float64 { return &c.Reservoir.SpectralRadius })},
	{"HYBRID_LEARNING_RATE", floatSetter(func(c *Config) *float64 { return &c.Training.LearningRate })},
	{"HYBRID_L2", floatSetter(func(c *Config) *float64 { return &c.Training.L2 })},
	{"HYBRID_MIN_ACCURACY", floatSetter(func(c *Config) *float64 { return &c.Training.MinAccuracy })},
	{"HYBRID_KEYWORDS", func(c *Config, v string) error {
		var kws []string
		for _, kw := range strings.Split(v, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				kws = append(kws, kw)
			}
		}
		c.Heuristic.Keywords = kws
		return nil
	}},
	// Kill switch: ORCHESTRATOR_NEURAL=false forces heuristic routing.
	{"ORCHESTRATOR_NEURAL", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Neural.Enabled = b
		return nil
	}},
}

// ApplyEnv overlays environment values read through getenv. Empty values are ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	for _, b := range envBindings {
		v := strings.TrimSpace(getenv(b.key))
		if v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return herr.Wrapf(err, herr.KindInvalidArgument, "env %s=%q", b.key, v)
		}
	}
	return nil
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func floatSetter(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

// #endregion env
