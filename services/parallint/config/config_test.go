// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Timeout)
	assert.Equal(t, "stylish", cfg.Format)
}

func TestParse(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		cfg := Default()
		err := Parse([]byte(`
linters: [syntax, eslint]
rules:
  no-unused-vars: "off"
  eqeqeq: warn
ignorePatterns: ["dist/", "*.min.js"]
concurrency: 3
batchSize: 25
timeout: 90s
format: json
cache:
  enabled: true
  ttl: 24h
telemetry:
  exporter: stdout
`), &cfg)
		require.NoError(t, err)

		assert.Equal(t, []string{"syntax", "eslint"}, cfg.Linters)
		assert.Equal(t, map[string]string{"no-unused-vars": "off", "eqeqeq": "warn"}, cfg.Rules)
		assert.Equal(t, 3, cfg.Concurrency)
		assert.Equal(t, 25, cfg.BatchSize)
		assert.Equal(t, 90*time.Second, cfg.Timeout)
		assert.Equal(t, "json", cfg.Format)
		assert.True(t, cfg.Cache.Enabled)
		assert.Equal(t, ".parallintcache", cfg.Cache.Dir)
		assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
		assert.Equal(t, "stdout", cfg.Telemetry.Exporter)
		assert.True(t, cfg.AllowInlineConfig, "unset keys keep their defaults")
	})

	t.Run("empty document", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, Parse(nil, &cfg))
		assert.Equal(t, Default(), cfg)
	})

	invalid := map[string]string{
		"unknown key":         "lintres: [syntax]\n",
		"bad severity":        "rules:\n  eqeqeq: loud\n",
		"blank linter":        "linters: [\"\"]\n",
		"zero batch":          "batchSize: 0\n",
		"negative timeout":    "timeout: -1s\n",
		"unknown format":      "format: xml\n",
		"otlp needs endpoint": "telemetry:\n  exporter: otlp\n",
		"bad serve addr":      "serve:\n  addr: nowhere\n",
		"bad log level":       "logging:\n  level: chatty\n",
		"malformed yaml":      "linters: [syntax\n",
	}
	for name, doc := range invalid {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			err := Parse([]byte(doc), &cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	path, err := Find(nested)
	require.NoError(t, err)
	assert.Empty(t, path)

	cfgPath := filepath.Join(root, ".parallint.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("concurrency: 2\n"), 0o644))

	path, err = Find(nested)
	require.NoError(t, err)
	assert.Equal(t, cfgPath, path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Concurrency)

	t.Run("empty path is the default", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(root, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLintOptions(t *testing.T) {
	cfg := Default()
	cfg.Fix = true
	cfg.Rules = map[string]string{"eqeqeq": "error"}
	cfg.IgnorePatterns = []string{"dist/"}

	opts := cfg.LintOptions("/work")
	assert.Equal(t, "/work", opts.Cwd)
	assert.True(t, opts.Fix)
	assert.True(t, opts.AllowInlineConfig)
	assert.Equal(t, []string{"syntax"}, opts.Linters)
	assert.Equal(t, map[string]string{"eqeqeq": "error"}, opts.Rules)
	assert.Equal(t, []string{"dist/"}, opts.IgnorePatterns)
	assert.Equal(t, 30*time.Second, opts.LinterTimeout)

	opts.Rules["eqeqeq"] = "off"
	assert.Equal(t, "error", cfg.Rules["eqeqeq"], "options must not alias the config")
}

func TestCacheDir(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("/work", ".parallintcache"), cfg.CacheDir("/work"))
	cfg.Cache.Dir = "/var/cache/parallint"
	assert.Equal(t, "/var/cache/parallint", cfg.CacheDir("/work"))
}
