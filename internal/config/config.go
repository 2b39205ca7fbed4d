package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// environment overrides for secrets
const (
	EnvDatabaseDSN = "DMARC_DATABASE_DSN"
	EnvIMAPPass    = "DMARC_IMAP_PASS"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var v interface{}
	if err := value.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v interface{}) error {
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case int:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return errors.New("invalid duration")
	}
}

type Configuration struct {
	Database      DatabaseConfig `json:"database" yaml:"database"`
	Owner         string         `json:"owner" yaml:"owner" validate:"required"`
	MaxBatchSize  int            `json:"maxBatchSize" yaml:"maxBatchSize" validate:"gte=0"`
	MaxFileSize   int64          `json:"maxFileSize" yaml:"maxFileSize" validate:"gte=0"`
	Schedule      string         `json:"schedule" yaml:"schedule"`
	BatchSize     int            `json:"batchSize" yaml:"batchSize" validate:"gt=0"`
	SpoolDir      string         `json:"spoolDir" yaml:"spoolDir"`
	MetricsListen string         `json:"metricsListen" yaml:"metricsListen" validate:"omitempty,hostname_port"`
	ImapConfig    IMAPConfig     `json:"imap" yaml:"imap"`
}

type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver" validate:"required,oneof=mysql sqlite"`
	DSN    string `json:"dsn" yaml:"dsn" validate:"required"`
}

type IMAPConfig struct {
	Host       string   `json:"host" yaml:"host" validate:"omitempty,hostname_port"`
	SSL        bool     `json:"ssl" yaml:"ssl"`
	User       string   `json:"user" yaml:"user" validate:"required_with=Host"`
	Pass       string   `json:"pass" yaml:"pass"`
	Folder     string   `json:"folder" yaml:"folder" validate:"required_with=Host"`
	IgnoreCert bool     `json:"ignoreCert" yaml:"ignoreCert"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
}

// Defaults returns the settings used for every key missing from the config file.
func Defaults() Configuration {
	return Configuration{
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		MaxBatchSize: 10,
		MaxFileSize:  5 << 20,
		Schedule:     "@every 1h",
		BatchSize:    30,
		ImapConfig: IMAPConfig{
			Folder: "INBOX",
			Timeout: Duration{
				Duration: 30 * time.Second,
			},
		},
	}
}

// GetConfig decodes f (JSON, or YAML for .yaml/.yml files) over defaults,
// applies environment overrides (a .env file in the working directory is
// loaded first) and validates the result.
func GetConfig(defaults Configuration, f string) (*Configuration, error) {
	if f == "" {
		return nil, fmt.Errorf("please provide a valid config file")
	}

	b, err := os.ReadFile(f) // nolint: gosec
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(f)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &defaults); err != nil {
			return nil, err
		}
	default:
		decoder := json.NewDecoder(bytes.NewReader(b))
		decoder.DisallowUnknownFields()
		if err = decoder.Decode(&defaults); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("could not load .env: %w", err)
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		defaults.Database.DSN = v
	}
	if v := os.Getenv(EnvIMAPPass); v != "" {
		defaults.ImapConfig.Pass = v
	}

	if err := validator.New().Struct(defaults); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &defaults, nil
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}
