// Package config loads commitfit settings.
//
// Values are layered in this order, later layers winning:
//
//  1. built-in defaults (Default)
//  2. a YAML file
//  3. COMMITFIT_* environment variables
//  4. command-line flags, applied by the caller
//
// Validate runs after the last layer.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/alexshd/commitfit"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "COMMITFIT_"

// Config is the complete commitfit configuration.
type Config struct {
	Model   Model   `yaml:"model" envPrefix:"MODEL_"`
	Sampler Sampler `yaml:"sampler" envPrefix:"SAMPLER_"`
	Store   Store   `yaml:"store" envPrefix:"STORE_"`

	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	MetricsFile string `yaml:"metrics_file" env:"METRICS_FILE"`
}

// Model configures the model structure and priors.
type Model struct {
	NumStates     int    `yaml:"num_states" env:"NUM_STATES" validate:"min=2"`
	RenewalPeriod int    `yaml:"renewal_period" env:"RENEWAL_PERIOD" validate:"min=1"`
	Priors        Priors `yaml:"priors" envPrefix:"PRIOR_"`
}

// Priors mirrors commitfit.Priors.
type Priors struct {
	Concentration float64 `yaml:"concentration" env:"CONCENTRATION" validate:"gt=0"`
	ShapeAlpha    float64 `yaml:"shape_alpha" env:"SHAPE_ALPHA" validate:"gt=0"`
	ShapeBeta     float64 `yaml:"shape_beta" env:"SHAPE_BETA" validate:"gt=0"`
	BaselineMax   float64 `yaml:"baseline_max" env:"BASELINE_MAX" validate:"gt=0"`
	OffsetSigma   float64 `yaml:"offset_sigma" env:"OFFSET_SIGMA" validate:"gt=0"`
}

// Sampler configures MAP seeding and the chains.
type Sampler struct {
	Chains       int      `yaml:"chains" env:"CHAINS" validate:"min=1"`
	Draws        int      `yaml:"draws" env:"DRAWS" validate:"min=1"`
	Tune         int      `yaml:"tune" env:"TUNE" validate:"min=0"`
	TuneInterval int      `yaml:"tune_interval" env:"TUNE_INTERVAL" validate:"min=1"`
	Seed         uint64   `yaml:"seed" env:"SEED"`
	Seeds        []uint64 `yaml:"seeds" env:"SEEDS" envSeparator:","`

	MAPRounds      int     `yaml:"map_rounds" env:"MAP_ROUNDS" validate:"min=1"`
	MAPEvaluations int     `yaml:"map_evaluations" env:"MAP_EVALUATIONS" validate:"min=1"`
	MAPTolerance   float64 `yaml:"map_tolerance" env:"MAP_TOLERANCE" validate:"gt=0"`
	Seeding        string  `yaml:"seeding" env:"SEEDING" validate:"oneof=quantile ones"`
}

// Store configures where traces are written.
type Store struct {
	Path       string `yaml:"path" env:"PATH" validate:"required"`
	SyncWrites bool   `yaml:"sync_writes" env:"SYNC_WRITES"`
}

// Default returns the built-in configuration.
func Default() Config {
	mc := commitfit.DefaultModelConfig()
	sc := commitfit.DefaultConfig()
	return Config{
		Model: Model{
			NumStates:     mc.NumStates,
			RenewalPeriod: mc.RenewalPeriod,
			Priors: Priors{
				Concentration: mc.Priors.Concentration,
				ShapeAlpha:    mc.Priors.ShapeAlpha,
				ShapeBeta:     mc.Priors.ShapeBeta,
				BaselineMax:   mc.Priors.BaselineMax,
				OffsetSigma:   mc.Priors.OffsetSigma,
			},
		},
		Sampler: Sampler{
			Chains:         sc.Chains,
			Draws:          sc.Draws,
			Tune:           sc.Tune,
			TuneInterval:   sc.TuneInterval,
			Seed:           sc.Seed,
			MAPRounds:      sc.MAP.MaxRounds,
			MAPEvaluations: sc.MAP.FuncEvaluations,
			MAPTolerance:   sc.MAP.Tolerance,
			Seeding:        sc.MAP.Seeding.String(),
		},
		Store: Store{
			Path: "commitfit-traces",
		},
		LogLevel: "info",
	}
}

// Load layers the YAML file at path (skipped when path is empty) and the
// environment over the defaults. The result is not validated; callers apply
// their flags first and then call Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos do not silently fall back to
// defaults.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ParseEnv overlays COMMITFIT_* environment variables on target.
// Unset variables leave fields untouched.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field. Failures wrap commitfit.ErrInvalidConfig.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", commitfit.ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", commitfit.ErrInvalidConfig, strings.Join(msgs, "; "))
}

// ModelConfig converts the model section for commitfit.NewModel.
func (c *Config) ModelConfig() commitfit.ModelConfig {
	p := c.Model.Priors
	return commitfit.ModelConfig{
		NumStates:     c.Model.NumStates,
		RenewalPeriod: c.Model.RenewalPeriod,
		Priors: commitfit.Priors{
			Concentration: p.Concentration,
			ShapeAlpha:    p.ShapeAlpha,
			ShapeBeta:     p.ShapeBeta,
			BaselineMax:   p.BaselineMax,
			OffsetSigma:   p.OffsetSigma,
		},
	}
}

// SamplerConfig converts the sampler section for commitfit.NewSampler.
// Logger and Observer are left for the caller.
func (c *Config) SamplerConfig() commitfit.Config {
	s := c.Sampler
	seeding := commitfit.SeedQuantile
	if s.Seeding == commitfit.SeedOnes.String() {
		seeding = commitfit.SeedOnes
	}
	return commitfit.Config{
		Chains:       s.Chains,
		Draws:        s.Draws,
		Tune:         s.Tune,
		TuneInterval: s.TuneInterval,
		Seed:         s.Seed,
		Seeds:        append([]uint64(nil), s.Seeds...),
		MAP: commitfit.MAPConfig{
			MaxRounds:       s.MAPRounds,
			FuncEvaluations: s.MAPEvaluations,
			Tolerance:       s.MAPTolerance,
			Seeding:         seeding,
		},
	}
}
