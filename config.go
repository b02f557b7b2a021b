// callguard is a small CLI around the internal/callclient call engine: it
// reads a TOML configuration file, builds a callclient.Client from it, and
// exposes single-shot and soak-test commands for exercising a pool of
// backend URLs by hand.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/callguard/internal/callclient"
	"github.com/tonimelisma/callguard/internal/urlselector"
)

// FileConfig is the TOML shape of a callguard config file, one field per
// callclient.ClientConfiguration knob from spec.md §6. Durations are
// strings so a file can read "250ms" rather than an implied-unit integer.
type FileConfig struct {
	BaseURLs []string `toml:"base_urls"`

	MaxNumRetries          int    `toml:"max_num_retries"`
	BackoffSlotSize        string `toml:"backoff_slot_size"`
	MaxNumRelocations      int    `toml:"max_num_relocations"`
	FailedURLCooldown      string `toml:"failed_url_cooldown"`
	ServerQosMode          string `toml:"server_qos_mode"`
	RetryOnTimeout         string `toml:"retry_on_timeout"`
	RetryOnSocketException string `toml:"retry_on_socket_exception"`
	NodeSelectionStrategy  string `toml:"node_selection_strategy"`

	LimiterMin     int `toml:"limiter_min"`
	LimiterMax     int `toml:"limiter_max"`
	LimiterInitial int `toml:"limiter_initial"`

	Soak SoakConfig `toml:"soak"`
}

// SoakConfig configures the "soak" subcommand's paced load generator.
type SoakConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Duration          string  `toml:"duration"`
	Concurrency       int     `toml:"concurrency"`
	Method            string  `toml:"method"`
	Path              string  `toml:"path"`
}

// Default values for configuration options not otherwise scaled from
// len(base_urls) by callclient.DefaultConfiguration.
const (
	defaultBackoffSlotSize   = "250ms"
	defaultFailedURLCooldown = "0s"
	defaultServerQosMode     = "automatic_retry"
	defaultRetryOnTimeout    = "disabled"
	defaultRetryOnSocketExc  = "enabled"
	defaultNodeSelection     = "pin_until_error"
	defaultLimiterMin        = 1
	defaultLimiterMax        = 256
	defaultLimiterInitial    = 16

	defaultSoakRPS         = 10
	defaultSoakDuration    = "30s"
	defaultSoakConcurrency = 8
	defaultSoakMethod      = "GET"
	defaultSoakPath        = "/"
)

// DefaultConfig returns a FileConfig populated with callguard's documented
// defaults. It is used both as the starting point for TOML decoding (so
// unset fields retain their default) and as the fallback when no config
// file is given at all.
func DefaultConfig() *FileConfig {
	return &FileConfig{
		BackoffSlotSize:        defaultBackoffSlotSize,
		FailedURLCooldown:      defaultFailedURLCooldown,
		ServerQosMode:          defaultServerQosMode,
		RetryOnTimeout:         defaultRetryOnTimeout,
		RetryOnSocketException: defaultRetryOnSocketExc,
		NodeSelectionStrategy:  defaultNodeSelection,
		LimiterMin:             defaultLimiterMin,
		LimiterMax:             defaultLimiterMax,
		LimiterInitial:         defaultLimiterInitial,
		Soak: SoakConfig{
			RequestsPerSecond: defaultSoakRPS,
			Duration:          defaultSoakDuration,
			Concurrency:       defaultSoakConcurrency,
			Method:            defaultSoakMethod,
			Path:              defaultSoakPath,
		},
	}
}

// LoadConfig reads and parses a TOML config file, decoding into an
// already-defaulted struct so a file overriding only a handful of fields
// still has every other field populated. An empty path returns the
// defaults untouched.
func LoadConfig(path string) (*FileConfig, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var (
	validQosModes             = map[string]bool{"automatic_retry": true, "propagate_to_caller": true}
	validTimeoutRetryModes    = map[string]bool{"disabled": true, "dangerous_enable": true}
	validSocketExceptionModes = map[string]bool{"enabled": true, "dangerous_disabled": true}
	validSelectionStrategies  = map[string]bool{"pin_until_error": true, "round_robin": true}
)

// Validate checks every field and accumulates all errors via errors.Join,
// so a misconfigured file reports every problem in one pass instead of
// one fix-rerun cycle per mistake.
func Validate(cfg *FileConfig) error {
	var errs []error

	if cfg.MaxNumRetries < 0 {
		errs = append(errs, fmt.Errorf("max_num_retries: must be >= 0, got %d", cfg.MaxNumRetries))
	}

	if cfg.MaxNumRelocations < 0 {
		errs = append(errs, fmt.Errorf("max_num_relocations: must be >= 0, got %d", cfg.MaxNumRelocations))
	}

	if _, err := time.ParseDuration(cfg.BackoffSlotSize); err != nil {
		errs = append(errs, fmt.Errorf("backoff_slot_size: %w", err))
	}

	if _, err := time.ParseDuration(cfg.FailedURLCooldown); err != nil {
		errs = append(errs, fmt.Errorf("failed_url_cooldown: %w", err))
	}

	if !validQosModes[cfg.ServerQosMode] {
		errs = append(errs, fmt.Errorf("server_qos_mode: must be one of automatic_retry, propagate_to_caller; got %q", cfg.ServerQosMode))
	}

	if !validTimeoutRetryModes[cfg.RetryOnTimeout] {
		errs = append(errs, fmt.Errorf("retry_on_timeout: must be one of disabled, dangerous_enable; got %q", cfg.RetryOnTimeout))
	}

	if !validSocketExceptionModes[cfg.RetryOnSocketException] {
		errs = append(errs, fmt.Errorf("retry_on_socket_exception: must be one of enabled, dangerous_disabled; got %q", cfg.RetryOnSocketException))
	}

	if !validSelectionStrategies[cfg.NodeSelectionStrategy] {
		errs = append(errs, fmt.Errorf("node_selection_strategy: must be one of pin_until_error, round_robin; got %q", cfg.NodeSelectionStrategy))
	}

	if cfg.LimiterMin < 1 {
		errs = append(errs, fmt.Errorf("limiter_min: must be >= 1, got %d", cfg.LimiterMin))
	}

	if cfg.LimiterMax < cfg.LimiterMin {
		errs = append(errs, fmt.Errorf("limiter_max: must be >= limiter_min (%d), got %d", cfg.LimiterMin, cfg.LimiterMax))
	}

	if cfg.LimiterInitial < cfg.LimiterMin || cfg.LimiterInitial > cfg.LimiterMax {
		errs = append(errs, fmt.Errorf("limiter_initial: must be between limiter_min and limiter_max, got %d", cfg.LimiterInitial))
	}

	errs = append(errs, validateSoak(&cfg.Soak)...)

	return errors.Join(errs...)
}

func validateSoak(s *SoakConfig) []error {
	var errs []error

	if s.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("soak.requests_per_second: must be > 0, got %v", s.RequestsPerSecond))
	}

	if _, err := time.ParseDuration(s.Duration); err != nil {
		errs = append(errs, fmt.Errorf("soak.duration: %w", err))
	}

	if s.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("soak.concurrency: must be >= 1, got %d", s.Concurrency))
	}

	if s.Method == "" {
		errs = append(errs, errors.New("soak.method: must not be empty"))
	}

	if s.Path == "" {
		errs = append(errs, errors.New("soak.path: must not be empty"))
	}

	return errs
}

// ToOptions converts a validated FileConfig into the functional options
// callclient.NewClient expects. max_num_retries and max_num_relocations
// are left at callclient's own len(baseURLs)-scaled default unless the
// file sets them explicitly (a zero value here is "unset", not "zero
// retries", and a negative value fails validation, so zero retries or
// zero relocations cannot be requested through the file).
func (cfg *FileConfig) ToOptions() ([]callclient.Option, error) {
	backoffSlot, err := time.ParseDuration(cfg.BackoffSlotSize)
	if err != nil {
		return nil, fmt.Errorf("backoff_slot_size: %w", err)
	}

	cooldown, err := time.ParseDuration(cfg.FailedURLCooldown)
	if err != nil {
		return nil, fmt.Errorf("failed_url_cooldown: %w", err)
	}

	opts := []callclient.Option{
		callclient.WithBackoffSlotSize(backoffSlot),
		callclient.WithFailedURLCooldown(cooldown),
		callclient.WithLimiterBounds(cfg.LimiterMin, cfg.LimiterMax, cfg.LimiterInitial),
	}

	if cfg.MaxNumRetries > 0 {
		opts = append(opts, callclient.WithMaxNumRetries(cfg.MaxNumRetries))
	}

	if cfg.MaxNumRelocations > 0 {
		opts = append(opts, callclient.WithMaxNumRelocations(cfg.MaxNumRelocations))
	}

	if cfg.ServerQosMode == "propagate_to_caller" {
		opts = append(opts, callclient.WithServerQosMode(callclient.PropagateToCaller))
	} else {
		opts = append(opts, callclient.WithServerQosMode(callclient.AutomaticRetry))
	}

	if cfg.RetryOnTimeout == "dangerous_enable" {
		opts = append(opts, callclient.WithRetryOnTimeout(callclient.TimeoutRetryDangerousEnable))
	} else {
		opts = append(opts, callclient.WithRetryOnTimeout(callclient.TimeoutRetryDisabled))
	}

	if cfg.RetryOnSocketException == "dangerous_disabled" {
		opts = append(opts, callclient.WithRetryOnSocketException(callclient.SocketExceptionRetryDangerousDisabled))
	} else {
		opts = append(opts, callclient.WithRetryOnSocketException(callclient.SocketExceptionRetryEnabled))
	}

	if cfg.NodeSelectionStrategy == "round_robin" {
		opts = append(opts, callclient.WithNodeSelectionStrategy(urlselector.RoundRobin))
	} else {
		opts = append(opts, callclient.WithNodeSelectionStrategy(urlselector.PinUntilError))
	}

	return opts, nil
}

// resolveBaseURLs returns the effective base URL list: repeated --base-url
// flags win outright over the config file's base_urls table, matching the
// teacher's "CLI flags always win" override ordering.
func resolveBaseURLs(flagURLs, fileURLs []string) ([]string, error) {
	urls := flagURLs
	if len(urls) == 0 {
		urls = fileURLs
	}

	if len(urls) == 0 {
		return nil, errors.New("no base URLs configured: pass --base-url or set base_urls in the config file")
	}

	return urls, nil
}

// ensureExists is a small helper used by "config show" to fail clearly on
// a config path that does not exist, rather than silently falling back to
// defaults as LoadConfig's empty-path case does.
func ensureExists(path string) error {
	if path == "" {
		return nil
	}

	_, err := os.Stat(path)

	return err
}
