package config

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"

	"phenoload/internal/phenotype"
	"phenoload/internal/storage"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to the user but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into
// the config (e.g. "store.kind").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Errors returns only the blocking issues.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			out = append(out, iss)
		}
	}
	return out
}

var knownStores = map[string]bool{"mysql": true, "postgres": true, "sqlite": true}

// Validate performs static checks over c. It does not touch the filesystem
// or the network.
func Validate(c Config) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// input
	if strings.TrimSpace(c.Input.File) == "" {
		add(SeverityError, "input.file", "input file must not be empty")
	}
	if c.Input.Comma != "" && c.Input.CommaRune() == 0 {
		add(SeverityError, "input.comma", "delimiter must be a single character, got %q", c.Input.Comma)
	}
	if c.Input.HTTP.MaxRetries < 0 {
		add(SeverityError, "input.http.max_retries", "must be >= 0")
	}

	// store
	switch {
	case strings.TrimSpace(c.Store.Kind) == "":
		add(SeverityError, "store.kind", "store kind must not be empty")
	case !knownStores[c.Store.Kind]:
		add(SeverityError, "store.kind", "unknown store kind %q (want mysql, postgres or sqlite)", c.Store.Kind)
	case c.Store.Kind != "sqlite" && c.Store.ResolveDSN() == "":
		add(SeverityError, "store.dsn", "%s store needs a dsn or DB_HOST", c.Store.Kind)
	}
	if !c.Import.PartitionsOnly && len(c.Store.DropTables) > 0 && strings.TrimSpace(c.Store.Schema) == "" {
		add(SeverityError, "store.schema", "tables are dropped but no schema script recreates them")
	}
	for i, t := range c.Store.DropTables {
		if strings.EqualFold(t, c.Store.VariantTable) || strings.EqualFold(t, c.Store.AggregateTable) {
			add(SeverityWarning, fmt.Sprintf("store.drop_tables[%d]", i), "dropping fact table %q discards every partition", t)
		}
	}
	for path, name := range map[string]string{
		"store.hierarchy_table": c.Store.HierarchyTable,
		"store.variant_table":   c.Store.VariantTable,
		"store.aggregate_table": c.Store.AggregateTable,
	} {
		if strings.TrimSpace(name) == "" {
			add(SeverityError, path, "table name must not be empty")
		}
	}

	// import
	if _, err := phenotype.ParseOrphanPolicy(c.Import.OrphanPolicy); err != nil {
		add(SeverityError, "import.orphan_policy", "%v", err)
	}
	if _, err := storage.ParseInsertMode(c.Import.InsertMode); err != nil {
		add(SeverityError, "import.insert_mode", "%v", err)
	}
	if c.Import.PartitionsOnly && c.Import.InsertMode == string(storage.Upsert) {
		add(SeverityWarning, "import.insert_mode", "ignored with partitions_only: no rows are written")
	}

	// log
	if c.Log.Mode != "production" && c.Log.Mode != "development" {
		add(SeverityError, "log.mode", "unknown log mode %q (want production or development)", c.Log.Mode)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add(SeverityError, "log.level", "%v", err)
	}

	// metrics
	switch c.Metrics.Backend {
	case "", "none":
	case "prometheus":
		if c.Metrics.PushgatewayURL == "" {
			add(SeverityError, "metrics.pushgateway_url", "prometheus backend requires a Pushgateway URL")
		} else if u, err := url.Parse(c.Metrics.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			add(SeverityError, "metrics.pushgateway_url", "not an absolute URL: %q", c.Metrics.PushgatewayURL)
		}
	case "datadog":
		if c.Metrics.DatadogAddr == "" {
			add(SeverityError, "metrics.datadog_addr", "datadog backend requires a DogStatsD address")
		}
	default:
		add(SeverityError, "metrics.backend", "unknown metrics backend %q (want none, prometheus or datadog)", c.Metrics.Backend)
	}
	if c.Metrics.Backend != "" && c.Metrics.Backend != "none" && strings.TrimSpace(c.Metrics.Job) == "" {
		add(SeverityWarning, "metrics.job", "empty job label; series from different runs will collide")
	}

	return issues
}
