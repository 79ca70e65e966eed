// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces the agent's environment variables, e.g.
// REKUEST_URL, REKUEST_BACKOFF_MAX.
const EnvPrefix = "REKUEST_"

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Path of the YAML config file. Empty means defaults + environment
	// only.
	Path string

	// Watch reloads the file on change and calls OnChange.
	Watch bool

	// OnChange receives every successfully reloaded config.
	OnChange func(*Config) error

	Logger *slog.Logger
}

// Loader layers defaults, the YAML file, and the environment into a
// validated Config. Precedence is env over file over defaults.
type Loader struct {
	koanf   *koanf.Koanf
	options LoaderOptions
	logger  *slog.Logger
}

// NewLoader returns a loader for opts.
func NewLoader(opts LoaderOptions) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		koanf:   koanf.New("."),
		options: opts,
		logger:  logger,
	}
}

// Load reads all layers and unmarshals into a validated Config. With Watch
// set, a background watcher keeps reloading the file layer.
func (l *Loader) Load() (*Config, error) {
	if err := l.koanf.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	var fileProvider *file.File
	if l.options.Path != "" {
		fileProvider = file.Provider(l.options.Path)
		if err := l.koanf.Load(fileProvider, yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: %s: %w", l.options.Path, err)
		}
	}

	if err := l.koanf.Load(l.envProvider(), nil); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}

	if l.options.Watch && fileProvider != nil {
		if err := l.watch(fileProvider); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// envProvider maps REKUEST_BACKOFF_MAX to backoff.max. A single underscore
// separates path segments; key names themselves use none.
func (l *Loader) envProvider() *env.Env {
	return env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		// Two-level keys (backoff, log, metrics) split on the first
		// underscore; everything else is a flat key like instance_id.
		for _, section := range []string{"backoff_", "log_", "metrics_"} {
			if strings.HasPrefix(key, section) {
				return strings.Replace(key, "_", ".", 1)
			}
		}
		return key
	})
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := &Config{}
	if err := l.koanf.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// watch reloads the file layer whenever it changes on disk. The file
// provider watches through fsnotify; env and defaults are re-layered on
// every reload so precedence stays stable.
func (l *Loader) watch(provider *file.File) error {
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			l.logger.Warn("config watch error", "error", err)
			return
		}

		fresh := koanf.New(".")
		if err := fresh.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
			l.logger.Warn("config reload failed", "error", err)
			return
		}
		if err := fresh.Load(provider, yaml.Parser()); err != nil {
			l.logger.Warn("config reload failed", "error", err)
			return
		}
		if err := fresh.Load(l.envProvider(), nil); err != nil {
			l.logger.Warn("config reload failed", "error", err)
			return
		}
		l.koanf = fresh

		cfg, err := l.unmarshal()
		if err != nil {
			l.logger.Warn("config reload invalid", "error", err)
			return
		}
		if l.options.OnChange != nil {
			if err := l.options.OnChange(cfg); err != nil {
				l.logger.Warn("config change callback failed", "error", err)
			}
		}
	})
}
