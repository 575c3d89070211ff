// Package config loads epubinspect settings from an optional YAML file and
// EPUBINSPECT_* environment variables.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sirupsen/logrus"

	"github.com/simp-lee/epubmodel"
	"github.com/simp-lee/epubmodel/diag"
)

// Output formats.
const (
	FormatText = "text"
	FormatYAML = "yaml"
)

// Config holds the epubinspect settings. Environment variables override the
// YAML file, and env-default applies when neither sets a field.
type Config struct {
	// Jobs is the number of publications inspected at once.
	Jobs int `yaml:"jobs" env:"EPUBINSPECT_JOBS" env-default:"4"`
	// Concurrency bounds the concurrent item loads within one publication.
	Concurrency  int    `yaml:"concurrency" env:"EPUBINSPECT_CONCURRENCY" env-default:"8"`
	MaxEntrySize int64  `yaml:"max_entry_size" env:"EPUBINSPECT_MAX_ENTRY_SIZE" env-default:"268435456"`
	TOCMode      string `yaml:"toc_mode" env:"EPUBINSPECT_TOC_MODE" env-default:"best-effort"`
	Rootfile     string `yaml:"default_rootfile" env:"EPUBINSPECT_DEFAULT_ROOTFILE" env-default:"OEBPS/content.opf"`

	Format   string `yaml:"format" env:"EPUBINSPECT_FORMAT" env-default:"text"`
	LogLevel string `yaml:"log_level" env:"EPUBINSPECT_LOG_LEVEL" env-default:"warn"`
	LogJSON  bool   `yaml:"log_json" env:"EPUBINSPECT_LOG_JSON" env-default:"false"`

	// FailOn is the lowest severity that makes the command exit non-zero.
	FailOn string `yaml:"fail_on" env:"EPUBINSPECT_FAIL_ON" env-default:"critical"`
}

// Load reads the configuration. path names an optional YAML file; when it is
// empty only the environment is consulted.
func Load(path string) (Config, error) {
	var cfg Config
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values that cleanenv cannot.
func (c Config) Validate() error {
	if c.Jobs < 1 {
		return fmt.Errorf("config: jobs must be positive, got: %d", c.Jobs)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be positive, got: %d", c.Concurrency)
	}
	if c.MaxEntrySize < 1 {
		return fmt.Errorf("config: max_entry_size must be positive, got: %d", c.MaxEntrySize)
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	switch c.Format {
	case FormatText, FormatYAML:
	default:
		return fmt.Errorf("config: unknown format %q", c.Format)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := diag.ParseSeverity(c.FailOn); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Mode parses TOCMode.
func (c Config) Mode() (epub.TOCMode, error) {
	switch strings.ToLower(strings.TrimSpace(c.TOCMode)) {
	case "best-effort", "besteffort", "":
		return epub.BestEffort, nil
	case "strict":
		return epub.Strict, nil
	}
	return epub.BestEffort, fmt.Errorf("config: unknown toc_mode %q", c.TOCMode)
}

// FailSeverity parses FailOn. Unknown names fall back to critical.
func (c Config) FailSeverity() diag.Severity {
	sev, err := diag.ParseSeverity(c.FailOn)
	if err != nil {
		return diag.Critical
	}
	return sev
}

// Logger builds a logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		l.SetLevel(lvl)
	}
	if c.LogJSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return l
}

// Options translates the configuration into parse options.
func (c Config) Options(log logrus.FieldLogger) []epub.Option {
	mode, _ := c.Mode()
	return []epub.Option{
		epub.WithLogger(log),
		epub.WithConcurrency(c.Concurrency),
		epub.WithMaxEntrySize(c.MaxEntrySize),
		epub.WithTOCMode(mode),
		epub.WithDefaultRootfile(c.Rootfile),
	}
}
