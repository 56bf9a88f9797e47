package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix is prepended to every environment variable key, e.g.
// TIEL_LOADER_MAX_OWNERS_PER_QUERY.
const EnvPrefix = "TIEL"

// stdin is swapped by tests.
var stdin io.Reader = os.Stdin

// Load resolves configuration with the following precedence:
// 1. Explicit overrides (v.Set) for secrets read from files or the terminal
// 2. Flags explicitly set on fs
// 3. Environment variables
// 4. Config file
// 5. Default values
//
// fs must already be parsed and should carry the flags from DefineFlags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath := ""
	if fs != nil {
		cfgPath, _ = fs.GetString("config")
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("tidb-eagerload")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/tidb-eagerload/")
		v.AddConfigPath("$HOME/.tidb-eagerload")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		bindChangedFlags(v, fs)
	}
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}
	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.dsn") == "" && v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindChangedFlags copies only explicitly-set flags into Viper so unset flag
// defaults never shadow env or file values.
func bindChangedFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		if !strings.Contains(f.Name, ".") {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := fs.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// DefineFlags registers the configuration flags on fs using canonical
// dot + snake_case keys.
func DefineFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Config file path")

	fs.String("database.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
	fs.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port")
	fs.String("database.user", "", "Database user")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for database password securely")
	fs.String("database.database", "", "Database name")
	fs.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	fs.Bool("database.role.enabled", false, "Run eager-load queries under SET ROLE")
	fs.String("database.role.default", "", "Role used when the request carries none")
	fs.StringSlice("database.role.allowed_roles", nil, "Roles accepted for SET ROLE (comma-separated or repeated)")
	fs.Duration("database.connection_timeout", 0, "Max time to wait for the database on startup")
	fs.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")

	fs.Int("loader.max_owners_per_query", 0, "Maximum owners bound into one query (0 = unlimited)")
	fs.Int("loader.concurrency", 0, "Chunk queries allowed in flight at once")
	fs.Bool("loader.always_return_array", false, "Return arrays even for one-to-one relations")

	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio between 0 and 1")
	fs.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for traces and logs (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	fs.String("observability.traces.endpoint", "", "OTLP endpoint for traces only")
	fs.String("observability.logs.endpoint", "", "OTLP endpoint for logs only")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 4000)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "")
	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.server_name", "")
	v.SetDefault("database.pool.max_open", 25)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.role.enabled", false)
	v.SetDefault("database.role.default", "")
	v.SetDefault("database.role.allowed_roles", []string{})
	v.SetDefault("database.connection_timeout", 30*time.Second)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)

	v.SetDefault("loader.max_owners_per_query", 1000)
	v.SetDefault("loader.concurrency", 1)
	v.SetDefault("loader.always_return_array", false)

	v.SetDefault("observability.service_name", "tidb-eagerload")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)

	v.SetDefault("naming.plural_overrides", map[string]string{})
	v.SetDefault("naming.singular_overrides", map[string]string{})
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// readSecretFile reads a trimmed secret from path, or from stdin for "@-".
func readSecretFile(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if strings.TrimSpace(path) == "@-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	for _, key := range []string{"database.dsn_file", "database.password_file"} {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
