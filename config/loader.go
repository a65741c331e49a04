package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Defaulter is implemented by config structs that seed their own defaults.
// Defaults are applied before the YAML file and env vars, so both can override them.
type Defaulter interface {
	SetDefaults()
}

// Loader handles configuration loading from YAML and Environment variables.
// Priority: Env Vars > YAML > Defaults.
// This loader is immutable; reloads build a new value and swap it into a Container.
type Loader[T any] struct {
	envPrefix  string
	configPath string
	validate   *validator.Validate
}

func NewLoader[T any](envPrefix, configPath string) *Loader[T] {
	return &Loader[T]{
		envPrefix:  envPrefix,
		configPath: configPath,
		validate:   validator.New(),
	}
}

// Path is the YAML file backing this loader, empty when env-only.
func (l *Loader[T]) Path() string { return l.configPath }

// Load reads the configuration. A missing file is not an error; a malformed one is.
func (l *Loader[T]) Load() (*T, error) {
	var cfg T

	if d, ok := any(&cfg).(Defaulter); ok {
		d.SetDefaults()
	}

	if l.configPath != "" {
		if err := l.decodeFile(&cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(l.envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to process env vars: %w", err)
	}

	if err := l.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

func (l *Loader[T]) decodeFile(cfg *T) error {
	file, err := os.Open(l.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: failed to decode config file: %w", err)
	}
	return nil
}
