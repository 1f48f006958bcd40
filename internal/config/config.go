// Package config loads the application configuration from AGENTSTATE_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"

	"github.com/fclairamb/agentstate/internal/apperrors"
	"github.com/fclairamb/agentstate/internal/retry"
	"github.com/fclairamb/agentstate/internal/store"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "AGENTSTATE_"

// Configuration keys, as derived from the environment variable names.
const (
	KeyDir               = "dir"
	KeyLockTimeout       = "lock_timeout"
	KeyRetryMaxAttempts  = "retry_max_attempts"
	KeyRetryInitialDelay = "retry_initial_delay"
	KeyRetryMaxDelay     = "retry_max_delay"
	KeyRetryFactor       = "retry_factor"
	KeyHistory           = "history"
	KeyAPIURL            = "api_url"
	KeyAPIToken          = "api_token"
	KeyAPIModel          = "api_model"
	KeyAPIRate           = "api_rate"
	KeyLogFormat         = "log_format"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

const (
	defaultDir     = ".agentstate"
	defaultAPIRate = 350 * time.Millisecond
)

// Config holds the resolved configuration.
type Config struct {
	DataDir     string
	LockTimeout time.Duration
	Retry       retry.Config
	History     bool
	APIURL      string
	APIToken    string
	APIModel    string // non-empty when the API is an AI service
	APIRate     time.Duration
	LogFormat   string
}

type loadOptions struct {
	environ   func() []string
	overrides map[string]string
}

// Option configures Load.
type Option func(*loadOptions)

// WithEnviron replaces os.Environ as the source of environment variables.
func WithEnviron(fn func() []string) Option {
	return func(o *loadOptions) {
		o.environ = fn
	}
}

// WithOverride sets key to value after the environment has been read.
// Empty values are ignored so that unset CLI flags keep the environment value.
func WithOverride(key, value string) Option {
	return func(o *loadOptions) {
		if value != "" {
			o.overrides[key] = value
		}
	}
}

func defaults() map[string]string {
	retryDefaults := retry.DefaultConfig()
	return map[string]string{
		KeyDir:               defaultDir,
		KeyLockTimeout:       store.DefaultLockTimeout.String(),
		KeyRetryMaxAttempts:  strconv.Itoa(retryDefaults.MaxAttempts),
		KeyRetryInitialDelay: retryDefaults.InitialDelay.String(),
		KeyRetryMaxDelay:     retryDefaults.MaxDelay.String(),
		KeyRetryFactor:       strconv.FormatFloat(retryDefaults.Factor, 'f', -1, 64),
		KeyHistory:           "false",
		KeyAPIRate:           defaultAPIRate.String(),
		KeyLogFormat:         LogFormatText,
	}
}

// Load reads the configuration. Invalid values are reported as configuration
// errors naming the offending variable.
func Load(opts ...Option) (*Config, error) {
	o := &loadOptions{environ: os.Environ, overrides: map[string]string{}}
	for _, opt := range opts {
		opt(o)
	}

	konfig := koanf.New(".")
	for key, value := range defaults() {
		if err := konfig.Set(key, value); err != nil {
			return nil, apperrors.Config(fmt.Sprintf("set default %s: %v", key, err))
		}
	}

	// Load environment variables with AGENTSTATE_ prefix
	if err := konfig.Load(env.Provider(".", env.Opt{
		Prefix:      EnvPrefix,
		EnvironFunc: o.environ,
		TransformFunc: func(k, v string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), v
		},
	}), nil); err != nil {
		return nil, apperrors.Config(fmt.Sprintf("load env: %v", err))
	}

	for key, value := range o.overrides {
		if err := konfig.Set(key, value); err != nil {
			return nil, apperrors.Config(fmt.Sprintf("set %s: %v", key, err))
		}
	}

	return parse(konfig)
}

func parse(konfig *koanf.Koanf) (*Config, error) {
	p := parser{konfig: konfig}

	cfg := &Config{
		DataDir:     konfig.String(KeyDir),
		LockTimeout: p.duration(KeyLockTimeout),
		Retry: retry.Config{
			MaxAttempts:  p.integer(KeyRetryMaxAttempts),
			InitialDelay: p.duration(KeyRetryInitialDelay),
			MaxDelay:     p.duration(KeyRetryMaxDelay),
			Factor:       p.number(KeyRetryFactor),
		},
		History:   p.boolean(KeyHistory),
		APIURL:    konfig.String(KeyAPIURL),
		APIToken:  konfig.String(KeyAPIToken),
		APIModel:  konfig.String(KeyAPIModel),
		APIRate:   p.duration(KeyAPIRate),
		LogFormat: strings.ToLower(konfig.String(KeyLogFormat)),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return apperrors.Config(envName(KeyDir) + " must not be empty")
	}
	if c.LockTimeout <= 0 {
		return apperrors.Config(fmt.Sprintf("%s must be positive, got %s", envName(KeyLockTimeout), c.LockTimeout))
	}
	if c.APIRate < 0 {
		return apperrors.Config(fmt.Sprintf("%s must not be negative, got %s", envName(KeyAPIRate), c.APIRate))
	}
	if c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON {
		return apperrors.Config(fmt.Sprintf("%s must be %q or %q, got %q",
			envName(KeyLogFormat), LogFormatText, LogFormatJSON, c.LogFormat))
	}
	return c.Retry.Validate()
}

func envName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// parser converts string values and keeps the first error.
type parser struct {
	konfig *koanf.Koanf
	err    error
}

func (p *parser) fail(key, kind, value string) {
	if p.err == nil {
		p.err = apperrors.Config(fmt.Sprintf("%s: invalid %s %q", envName(key), kind, value))
	}
}

func (p *parser) duration(key string) time.Duration {
	value := p.konfig.String(key)
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, "duration", value)
	}
	return d
}

func (p *parser) integer(key string) int {
	value := p.konfig.String(key)
	i, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, "integer", value)
	}
	return i
}

func (p *parser) number(key string) float64 {
	value := p.konfig.String(key)
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, "number", value)
	}
	return f
}

func (p *parser) boolean(key string) bool {
	value := strings.ToLower(p.konfig.String(key))
	switch value {
	case "true", "1", "yes":
		return true
	case "false", "0", "no", "":
		return false
	}
	p.fail(key, "boolean", value)
	return false
}
