// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads .parallint.yaml project configuration.
//
// Values from the file are defaults; the CLI overrides them with any flag
// the user set explicitly.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/parallint/services/parallint/cache"
	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/report"
)

// FileNames are the configuration file names looked for, in order.
var FileNames = []string{".parallint.yaml", ".parallint.yml"}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("severity", validateSeverity)
}

// validateSeverity accepts the rule severities report.ParseSeverity knows.
func validateSeverity(fl validator.FieldLevel) bool {
	_, err := report.ParseSeverity(fl.Field().String())
	return err == nil
}

// Config is the content of a .parallint.yaml file.
type Config struct {
	Linters           []string          `yaml:"linters" validate:"dive,required"`
	Rules             map[string]string `yaml:"rules" validate:"dive,keys,required,endkeys,severity"`
	IgnorePatterns    []string          `yaml:"ignorePatterns" validate:"dive,required"`
	IgnorePath        string            `yaml:"ignorePath"`
	Extensions        []string          `yaml:"extensions" validate:"dive,required"`
	Fix               bool              `yaml:"fix"`
	AllowInlineConfig bool              `yaml:"allowInlineConfig"`
	LinterTimeout     time.Duration     `yaml:"linterTimeout" validate:"gte=0"`

	Concurrency int           `yaml:"concurrency" validate:"gte=0,lte=512"`
	BatchSize   int           `yaml:"batchSize" validate:"gte=1,lte=10000"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	Format      string        `yaml:"format" validate:"oneof=stylish json"`

	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Serve     ServeConfig     `yaml:"serve"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir" validate:"required_if=Enabled true"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	Exporter string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`
}

// ServeConfig configures the HTTP server mode.
type ServeConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Linters:           append([]string{}, lint.DefaultLinters...),
		AllowInlineConfig: true,
		BatchSize:         50,
		Timeout:           10 * time.Minute,
		LinterTimeout:     30 * time.Second,
		Format:            "stylish",
		Cache: CacheConfig{
			Dir: cache.DefaultDir,
			TTL: 7 * 24 * time.Hour,
		},
		Logging:   LoggingConfig{Level: "warn"},
		Telemetry: TelemetryConfig{Exporter: "none"},
		Serve:     ServeConfig{Addr: "127.0.0.1:8723"},
	}
}

// Find returns the first configuration file in dir or any parent, or "" if
// there is none.
func Find(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range FileNames {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Load reads and validates the file at path on top of Default. An empty
// path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over cfg and validates the result. Unknown keys are
// rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg.Validate()
}

// Validate checks every field constraint.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LintOptions converts the lint section into the option bag sent to workers.
func (c Config) LintOptions(cwd string) lint.Options {
	opts := lint.DefaultOptions(cwd)
	opts.Fix = c.Fix
	opts.AllowInlineConfig = c.AllowInlineConfig
	opts.LinterTimeout = c.LinterTimeout
	if len(c.Linters) > 0 {
		opts.Linters = append([]string{}, c.Linters...)
	}
	if len(c.Rules) > 0 {
		opts.Rules = make(map[string]string, len(c.Rules))
		for k, v := range c.Rules {
			opts.Rules[k] = v
		}
	}
	opts.IgnorePatterns = append([]string{}, c.IgnorePatterns...)
	opts.IgnorePath = c.IgnorePath
	opts.Extensions = append([]string{}, c.Extensions...)
	return opts
}

// CacheDir resolves the cache directory against cwd.
func (c Config) CacheDir(cwd string) string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(cwd, c.Cache.Dir)
}
