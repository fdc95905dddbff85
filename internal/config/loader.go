package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment key.
const EnvPrefix = "REVROUTE_"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if REVROUTE_CONFIG is set, or path when non-empty
//  3. env (prefix REVROUTE_)
func Load(_ context.Context, path ...string) (*Config, error) {
	cfg := *New()

	k := koanf.New(".")

	src := os.Getenv(EnvPrefix + "CONFIG")
	if len(path) > 0 && path[0] != "" {
		src = path[0]
	}
	if src != "" {
		if err := k.Load(file.Provider(src), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, src, err)
		}
	}

	// REVROUTE_EVAL_WORKERS -> eval_workers. Underscores are kept so keys
	// stay flat and match the koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}
	if raw, ok := k.Get("operator_weights").(string); ok {
		w, err := ParseWeights(raw)
		if err != nil {
			return nil, err
		}
		k.Delete("operator_weights")
		cfg.OperatorWeights = w
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for id, w := range c.OperatorWeights {
		if w < 0 {
			return fmt.Errorf("%w: operator weight %s is negative", ErrInvalidConfig, id)
		}
	}
	return nil
}

// ParseWeights reads "id=w,id=w" as set through the environment.
func ParseWeights(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: operator weight %q is not id=weight", ErrInvalidConfig, part)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: operator weight %q: %v", ErrInvalidConfig, part, err)
		}
		out[strings.TrimSpace(id)] = w
	}
	return out, nil
}
