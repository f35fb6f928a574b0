package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/imdario/mergo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables read by LoadSettings, e.g.
// PARAMSWEEP_WORKERS.
const EnvPrefix = "PARAMSWEEP"

// maxSettingsFileSize bounds the settings files LoadSettings will read.
const maxSettingsFileSize = 1 * 1024 * 1024

// Settings holds the engine defaults. Unset fields fall back to the values
// returned by the Get* methods, so partial files are safe.
type Settings struct {
	Workers           *int     `mapstructure:"workers" json:"workers,omitempty"`
	BatchSize         *int     `mapstructure:"batch_size" json:"batch_size,omitempty"`
	Patience          *int     `mapstructure:"patience" json:"patience,omitempty"`
	CheckpointDir     *string  `mapstructure:"checkpoint_dir" json:"checkpoint_dir,omitempty"`
	LedgerPath        *string  `mapstructure:"ledger_path" json:"ledger_path,omitempty"`
	Evaluator         *string  `mapstructure:"evaluator" json:"evaluator,omitempty"`
	Remote            []string `mapstructure:"remote" json:"remote,omitempty"`
	LogLevel          *string  `mapstructure:"log_level" json:"log_level,omitempty"`
	MemorySampleEvery *int     `mapstructure:"memory_sample_every" json:"memory_sample_every,omitempty"`
}

var settingsKeys = []string{
	"workers",
	"batch_size",
	"patience",
	"checkpoint_dir",
	"ledger_path",
	"evaluator",
	"remote",
	"log_level",
	"memory_sample_every",
}

// IntPtr and StringPtr build override values for Merge.
func IntPtr(v int) *int          { return &v }
func StringPtr(v string) *string { return &v }

// EmptySettings returns Settings with every field unset.
func EmptySettings() *Settings {
	return &Settings{}
}

// LoadSettings reads settings from a JSON, YAML or TOML file and from
// PARAMSWEEP_* environment variables, which take precedence. An empty path
// reads the environment only.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range settingsKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		cleanPath := filepath.Clean(path)
		info, err := os.Stat(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat settings file: %w", err)
		}
		if info.Size() > maxSettingsFileSize {
			return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", info.Size(), maxSettingsFileSize)
		}
		v.SetConfigFile(cleanPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	s := EmptySettings()
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Merge overlays every field set in override onto s.
func (s *Settings) Merge(override *Settings) error {
	if override == nil {
		return nil
	}
	return mergo.Merge(s, override, mergo.WithOverride)
}

// Validate reports every invalid field at once.
func (s *Settings) Validate() error {
	var result *multierror.Error
	if s.Workers != nil && *s.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("workers must be at least 1, got %d", *s.Workers))
	}
	if s.BatchSize != nil && *s.BatchSize < 1 {
		result = multierror.Append(result, fmt.Errorf("batch_size must be at least 1, got %d", *s.BatchSize))
	}
	if s.Patience != nil && *s.Patience < 1 {
		result = multierror.Append(result, fmt.Errorf("patience must be at least 1, got %d", *s.Patience))
	}
	if s.MemorySampleEvery != nil && *s.MemorySampleEvery < 1 {
		result = multierror.Append(result, fmt.Errorf("memory_sample_every must be at least 1, got %d", *s.MemorySampleEvery))
	}
	if s.CheckpointDir != nil && *s.CheckpointDir == "" {
		result = multierror.Append(result, fmt.Errorf("checkpoint_dir must not be empty"))
	}
	if s.LogLevel != nil {
		if _, err := logrus.ParseLevel(*s.LogLevel); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid log_level: %w", err))
		}
	}
	for i, addr := range s.Remote {
		if strings.TrimSpace(addr) == "" {
			result = multierror.Append(result, fmt.Errorf("remote[%d] is empty", i))
		}
	}
	return result.ErrorOrNil()
}

// GetWorkers returns the worker pool size, defaulting to the CPU count.
func (s *Settings) GetWorkers() int {
	if s.Workers == nil {
		return runtime.NumCPU()
	}
	return *s.Workers
}

// GetBatchSize returns the batch size, defaulting to the worker count.
func (s *Settings) GetBatchSize() int {
	if s.BatchSize == nil {
		return s.GetWorkers()
	}
	return *s.BatchSize
}

// GetPatience returns how many batches may complete between checkpoints.
func (s *Settings) GetPatience() int {
	if s.Patience == nil {
		return 1
	}
	return *s.Patience
}

func (s *Settings) GetCheckpointDir() string {
	if s.CheckpointDir == nil {
		return "checkpoints"
	}
	return *s.CheckpointDir
}

// GetLedgerPath returns the run ledger database path. Empty disables the
// ledger.
func (s *Settings) GetLedgerPath() string {
	if s.LedgerPath == nil {
		return ""
	}
	return *s.LedgerPath
}

func (s *Settings) GetEvaluator() string {
	if s.Evaluator == nil {
		return "echo"
	}
	return *s.Evaluator
}

func (s *Settings) GetLogLevel() logrus.Level {
	if s.LogLevel == nil {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(*s.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (s *Settings) GetMemorySampleEvery() int {
	if s.MemorySampleEvery == nil {
		return 100
	}
	return *s.MemorySampleEvery
}
