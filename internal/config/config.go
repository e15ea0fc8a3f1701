// Package config centralizes loader configuration. Values are resolved in
// layers, each overriding the previous one:
//
//  1. built-in defaults (Default)
//  2. a YAML file (--config or PHENOLOAD_CONFIG)
//  3. environment variables (PHENOLOAD_*, plus DB_HOST/DB_PORT/DB_USER/
//     DB_PASSWORD/DB_NAME for the store connection)
//  4. command-line flags the user explicitly set
//
// Typical usage from a cobra command:
//
//	config.RegisterFlags(cmd.Flags())
//	...
//	cfg, err := config.Load(cmd.Flags(), os.Getenv)
//
// Tests pass a private FlagSet and a map-backed getenv to stay hermetic.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"phenoload/internal/storage/mysql"
)

// Config is the complete loader configuration. It is a plain value and safe
// to copy after Load returns.
type Config struct {
	Input   Input   `yaml:"input"`
	Store   Store   `yaml:"store"`
	Import  Import  `yaml:"import"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Input describes the phenotype export.
type Input struct {
	// File is a local path, file:// URL, http(s) URL or s3://bucket/key.
	File       string `yaml:"file"`
	Encoding   string `yaml:"encoding"`    // WHATWG label; empty means utf-8
	Comma      string `yaml:"comma"`       // single character; empty means ","
	LazyQuotes bool   `yaml:"lazy_quotes"` // tolerate bare quotes

	HTTP HTTP `yaml:"http"`
	S3   S3   `yaml:"s3"`
}

// HTTP tunes the http(s) datasource.
type HTTP struct {
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// S3 configures the s3:// datasource.
type S3 struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Store describes the target database. DSN wins over the discrete
// connection parts when both are set.
type Store struct {
	Kind     string `yaml:"kind"` // mysql, postgres or sqlite
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`

	// Schema is the DDL script applied after DropTables.
	Schema     string   `yaml:"schema"`
	DropTables []string `yaml:"drop_tables"`

	HierarchyTable string `yaml:"hierarchy_table"`
	VariantTable   string `yaml:"variant_table"`
	AggregateTable string `yaml:"aggregate_table"`
}

// Import holds run-mode switches.
type Import struct {
	PartitionsOnly bool   `yaml:"partitions_only"`
	DryRun         bool   `yaml:"dry_run"`
	Fixtures       bool   `yaml:"fixtures"`
	RequireEmpty   bool   `yaml:"require_empty"`
	OrphanPolicy   string `yaml:"orphan_policy"` // warn, fail or detach
	InsertMode     string `yaml:"insert_mode"`   // insert or upsert
}

// Log configures zap.
type Log struct {
	Mode  string `yaml:"mode"` // production (JSON) or development (console)
	Level string `yaml:"level"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend        string `yaml:"backend"` // none, prometheus or datadog
	Job            string `yaml:"job"`
	PushgatewayURL string `yaml:"pushgateway_url"`
	DatadogAddr    string `yaml:"datadog_addr"`
}

// DefaultDropTables are dropped, in order, before the schema script runs.
var DefaultDropTables = []string{
	"participant_data_category",
	"participant_data",
	"participant",
	"phenotype_correlation",
	"phenotype_metadata",
	"phenotype",
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Input: Input{
			Encoding: "utf-8",
			Comma:    ",",
			HTTP:     HTTP{Timeout: 30 * time.Second, MaxRetries: 3},
			S3:       S3{Region: "us-east-1"},
		},
		Store: Store{
			Kind:           "mysql",
			Port:           "3306",
			Schema:         "schema/mysql/main.sql",
			DropTables:     append([]string(nil), DefaultDropTables...),
			HierarchyTable: "phenotype",
			VariantTable:   "phenotype_variant",
			AggregateTable: "phenotype_aggregate",
		},
		Import: Import{OrphanPolicy: "warn", InsertMode: "insert"},
		Log:    Log{Mode: "production", Level: "info"},
		Metrics: Metrics{
			Backend:     "none",
			Job:         "phenoload",
			DatadogAddr: "127.0.0.1:8125",
		},
	}
}

// Load resolves the layered configuration. fs must carry the flags from
// RegisterFlags; only flags the user changed override lower layers.
func Load(fs *pflag.FlagSet, getenv func(string) string) (Config, error) {
	cfg := Default()

	path := getenv("PHENOLOAD_CONFIG")
	if f := fs.Lookup(FlagConfig); f != nil && f.Changed {
		path = f.Value.String()
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := c.Decode(bytes.NewReader(b)); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// Decode merges YAML from r into c. Unknown keys are rejected so typos do not
// silently fall back to defaults. An empty document is not an error.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment variables. Malformed booleans, integers and
// durations are reported rather than ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	for _, s := range c.settings() {
		if s.env == "" {
			continue
		}
		v := strings.TrimSpace(getenv(s.env))
		if v == "" {
			continue
		}
		if err := s.set(v); err != nil {
			return fmt.Errorf("env %s: %w", s.env, err)
		}
	}
	return nil
}

// ApplyFlags overlays the flags in fs that were explicitly set.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	for _, s := range c.settings() {
		f := fs.Lookup(s.flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := s.set(f.Value.String()); err != nil {
			return fmt.Errorf("flag --%s: %w", s.flag, err)
		}
	}
	return nil
}

// ResolveDSN returns Store.DSN, or one built from the discrete parts.
func (s Store) ResolveDSN() string {
	if s.DSN != "" || s.Host == "" {
		return s.DSN
	}
	switch s.Kind {
	case "mysql":
		return mysql.BuildDSN(s.Host, s.Port, s.User, s.Password, s.Name)
	case "postgres":
		u := url.URL{Scheme: "postgres", Host: s.Host, Path: "/" + s.Name}
		if s.Port != "" {
			u.Host = net.JoinHostPort(s.Host, s.Port)
		}
		switch {
		case s.User != "" && s.Password != "":
			u.User = url.UserPassword(s.User, s.Password)
		case s.User != "":
			u.User = url.User(s.User)
		}
		return u.String()
	default:
		return s.DSN
	}
}

// CommaRune returns the delimiter as a rune; zero means the reader default.
func (i Input) CommaRune() rune {
	r := []rune(i.Comma)
	if len(r) != 1 {
		return 0
	}
	return r[0]
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// intValue parses v as a decimal int.
func intValue(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}
