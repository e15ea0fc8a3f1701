package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Flag names shared by the CLI and Load.
const (
	FlagConfig         = "config"
	FlagFile           = "file"
	FlagPartitionsOnly = "create-partitions-only"
)

// setting binds one configuration field to its flag and environment names.
// Exactly one of the value pointers is set.
type setting struct {
	flag, short, env, usage string

	str  *string
	b    *bool
	n    *int
	dur  *time.Duration
	list *[]string
}

func (c *Config) settings() []setting {
	return []setting{
		{flag: FlagFile, short: "f", env: "PHENOLOAD_FILE", usage: "phenotype CSV: path, file://, http(s):// or s3:// URI", str: &c.Input.File},
		{flag: "encoding", env: "PHENOLOAD_ENCODING", usage: "input text encoding (WHATWG label)", str: &c.Input.Encoding},
		{flag: "comma", env: "PHENOLOAD_COMMA", usage: "input field delimiter", str: &c.Input.Comma},
		{flag: "lazy-quotes", env: "PHENOLOAD_LAZY_QUOTES", usage: "tolerate bare quotes in unquoted fields", b: &c.Input.LazyQuotes},
		{flag: "http-timeout", env: "PHENOLOAD_HTTP_TIMEOUT", usage: "per-request timeout for http(s) input", dur: &c.Input.HTTP.Timeout},
		{flag: "http-retries", env: "PHENOLOAD_HTTP_RETRIES", usage: "retries for transient http(s) failures", n: &c.Input.HTTP.MaxRetries},
		{env: "PHENOLOAD_HTTP_INSECURE", b: &c.Input.HTTP.InsecureSkipVerify},
		{env: "PHENOLOAD_S3_REGION", str: &c.Input.S3.Region},
		{env: "PHENOLOAD_S3_ENDPOINT", str: &c.Input.S3.Endpoint},
		{env: "PHENOLOAD_S3_PATH_STYLE", b: &c.Input.S3.PathStyle},

		{flag: "store", env: "PHENOLOAD_STORE", usage: "store kind: mysql, postgres or sqlite", str: &c.Store.Kind},
		{flag: "dsn", env: "PHENOLOAD_DSN", usage: "store DSN (overrides DB_* parts)", str: &c.Store.DSN},
		{env: "DB_HOST", str: &c.Store.Host},
		{env: "DB_PORT", str: &c.Store.Port},
		{env: "DB_USER", str: &c.Store.User},
		{env: "DB_PASSWORD", str: &c.Store.Password},
		{env: "DB_NAME", str: &c.Store.Name},
		{flag: "schema", env: "PHENOLOAD_SCHEMA", usage: "DDL script applied after dropping tables", str: &c.Store.Schema},
		{flag: "drop-tables", env: "PHENOLOAD_DROP_TABLES", usage: "comma-separated tables dropped before the schema script", list: &c.Store.DropTables},

		{flag: FlagPartitionsOnly, env: "PHENOLOAD_PARTITIONS_ONLY", usage: "skip schema and inserts; only reconcile partitions", b: &c.Import.PartitionsOnly},
		{flag: "dry-run", env: "PHENOLOAD_DRY_RUN", usage: "plan and log partition DDL without executing it", b: &c.Import.DryRun},
		{flag: "fixtures", env: "PHENOLOAD_FIXTURES", usage: "append the synthetic Test phenotypes", b: &c.Import.Fixtures},
		{flag: "require-empty", env: "PHENOLOAD_REQUIRE_EMPTY", usage: "refuse to drop partitions that hold rows", b: &c.Import.RequireEmpty},
		{flag: "orphan-policy", env: "PHENOLOAD_ORPHAN_POLICY", usage: "records with a missing parent: warn, fail or detach", str: &c.Import.OrphanPolicy},
		{flag: "insert-mode", env: "PHENOLOAD_INSERT_MODE", usage: "hierarchy writes: insert or upsert", str: &c.Import.InsertMode},

		{flag: "log-mode", env: "PHENOLOAD_LOG_MODE", usage: "production (JSON) or development (console)", str: &c.Log.Mode},
		{flag: "log-level", env: "PHENOLOAD_LOG_LEVEL", usage: "debug, info, warn or error", str: &c.Log.Level},

		{flag: "metrics-backend", env: "PHENOLOAD_METRICS_BACKEND", usage: "none, prometheus or datadog", str: &c.Metrics.Backend},
		{flag: "metrics-job", env: "PHENOLOAD_METRICS_JOB", usage: "job label on emitted metrics", str: &c.Metrics.Job},
		{flag: "pushgateway-url", env: "PHENOLOAD_PUSHGATEWAY_URL", usage: "Prometheus Pushgateway URL", str: &c.Metrics.PushgatewayURL},
		{flag: "datadog-addr", env: "PHENOLOAD_DATADOG_ADDR", usage: "DogStatsD address", str: &c.Metrics.DatadogAddr},
	}
}

func (s setting) set(v string) error {
	switch {
	case s.str != nil:
		*s.str = v
	case s.b != nil:
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*s.b = b
	case s.n != nil:
		n, err := intValue(v)
		if err != nil {
			return err
		}
		*s.n = n
	case s.dur != nil:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q", v)
		}
		*s.dur = d
	case s.list != nil:
		*s.list = splitList(v)
	}
	return nil
}

// RegisterFlags defines every configuration flag on fs, with the built-in
// defaults shown in help output. Values are read back by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(FlagConfig, "", "YAML config file (env PHENOLOAD_CONFIG)")
	d := Default()
	for _, s := range d.settings() {
		if s.flag == "" {
			continue
		}
		usage := fmt.Sprintf("%s (env %s)", s.usage, s.env)
		switch {
		case s.str != nil:
			fs.StringP(s.flag, s.short, *s.str, usage)
		case s.b != nil:
			fs.BoolP(s.flag, s.short, *s.b, usage)
		case s.n != nil:
			fs.IntP(s.flag, s.short, *s.n, usage)
		case s.dur != nil:
			fs.DurationP(s.flag, s.short, *s.dur, usage)
		case s.list != nil:
			fs.StringP(s.flag, s.short, strings.Join(*s.list, ","), usage)
		}
	}
}
