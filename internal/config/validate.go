package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"tidb-eagerload/internal/naming"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration and returns fatal errors and warnings.
// On success Database.Database holds the effective database name.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Loader.validate(result)
	c.Observability.validate(result)
	validateNamingConfig(result, c.Naming)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}

	d.TLS.validate(result)

	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.addWarning("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout < 0 {
		result.addError("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.addError("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.addError("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.addWarning("database.connection_retry_interval",
			"connection_retry_interval is greater than connection_timeout",
			"only one connection attempt will be made")
	}

	d.Role.validate(result)

	name, err := d.EffectiveDatabaseName()
	if err != nil {
		field := "database.database"
		if strings.HasPrefix(err.Error(), "database.dsn") {
			field = "database.dsn"
		}
		result.addError(field, err.Error(), "")
		return
	}
	d.Database = name
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.addError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode),
			"valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.addError("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "")
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		result.addError("database.tls.cert_file",
			"both cert_file and key_file must be specified for client certificate authentication",
			"provide both cert_file and key_file, or neither")
	}
	if t.Mode == "skip-verify" {
		result.addWarning("database.tls.mode", "skip-verify mode does not verify server certificates",
			"use verify-ca or verify-full in production")
	}
}

func (r *RoleConfig) validate(result *ValidationResult) {
	if !r.Enabled {
		if r.Default != "" || len(r.AllowedRoles) > 0 {
			result.addWarning("database.role.enabled", "role settings are present but role execution is disabled",
				"set database.role.enabled=true to apply them")
		}
		return
	}
	if r.Default == "" {
		result.addError("database.role.default", "default role is required when role execution is enabled", "")
		return
	}
	if len(r.AllowedRoles) > 0 && !slices.Contains(r.AllowedRoles, r.Default) {
		result.addError("database.role.default", fmt.Sprintf("default role %q is not in allowed_roles", r.Default), "")
	}
}

func (l *LoaderConfig) validate(result *ValidationResult) {
	if l.MaxOwnersPerQuery < 0 {
		result.addError("loader.max_owners_per_query", "max_owners_per_query cannot be negative", "use 0 for unlimited")
	}
	if l.Concurrency < 0 {
		result.addError("loader.concurrency", "concurrency cannot be negative", "")
	}
	if l.Concurrency > 1 && l.MaxOwnersPerQuery == 0 {
		result.addWarning("loader.concurrency", "concurrency has no effect when max_owners_per_query is unlimited",
			"set loader.max_owners_per_query to split owners into chunks")
	}
}

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	check := func(field string, overrides map[string]string) {
		for from, to := range overrides {
			from = strings.TrimSpace(from)
			to = strings.TrimSpace(to)
			switch {
			case from == "":
				result.addError(field, "override key cannot be empty", "")
			case to == "":
				result.addError(field, fmt.Sprintf("override for %q cannot be empty", from), "")
			case naming.IsReserved(to):
				result.addError(field, fmt.Sprintf("override %q for %q uses the reserved prefix %q", to, from, naming.ReservedPrefix), "")
			}
		}
	}
	check("naming.plural_overrides", cfg.PluralOverrides)
	check("naming.singular_overrides", cfg.SingularOverrides)
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level),
			"valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format),
			"valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio",
			fmt.Sprintf("trace_sample_ratio %v must be between 0 and 1", o.TraceSampleRatio), "")
	}
	if o.SQLCommenterEnabled && !o.TracingEnabled {
		result.addWarning("observability.sqlcommenter_enabled", "sqlcommenter has no effect while tracing is disabled", "")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			"valid values are: grpc, http/protobuf")
	}
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
			"use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			"valid values are: none, gzip")
	}
	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
