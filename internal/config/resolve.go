package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ResolveOption customizes Resolve.
type ResolveOption func(*resolver)

type resolver struct {
	onPersistError func(path string, err error)
}

// WithPersistErrorHandler registers a callback for failures while writing the
// default configuration file. Such failures never abort resolution.
func WithPersistErrorHandler(fn func(path string, err error)) ResolveOption {
	return func(r *resolver) {
		r.onPersistError = fn
	}
}

// Resolve merges defaults, the configuration file at path and the command-line
// arguments in argv, in increasing order of precedence. Each layer overrides
// only the keys it sets explicitly.
//
// A missing file is not an error: the defaults are written to path before the
// command-line layer is applied, so command-line overrides are never
// persisted. A file that exists but cannot be parsed yields a *ConfigError.
// Unknown command-line keys are ignored together with their value.
func Resolve(defaults RuntimeConfig, path string, argv []string, opts ...ResolveOption) (*RuntimeConfig, error) {
	r := &resolver{}
	for _, opt := range opts {
		opt(r)
	}

	v := viper.New()
	for key, value := range defaults.settings() {
		v.SetDefault(key, value)
	}

	if path != "" {
		if err := r.loadFile(v, defaults, path); err != nil {
			return nil, err
		}
	}

	flags := newFlagSet(defaults)
	if err := flags.Parse(normalizeArgs(flags, argv)); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("command line: %w", err)}
	}
	flags.Visit(func(f *pflag.Flag) {
		v.Set(f.Name, f.Value.String())
	})

	var cfg RuntimeConfig
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		rejectNumericDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)))
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	cfg, err = validate(cfg, defaults)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// rejectNumericDurationHook refuses bare numbers for duration keys. Weak
// decoding would otherwise read them as nanoseconds.
func rejectNumericDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return nil, fmt.Errorf("duration %v has no unit; write it as a string such as \"30s\" or \"2m\"", data)
		}
		return data, nil
	}
}

func (r *resolver) loadFile(v *viper.Viper, defaults RuntimeConfig, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := persistDefaults(path, defaults); err != nil && r.onPersistError != nil {
			r.onPersistError(path, err)
		}
		return nil
	}
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}

	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	return nil
}

func persistDefaults(path string, defaults RuntimeConfig) error {
	data, err := json.MarshalIndent(defaults.settings(), "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	// 0600: the file carries the administrator password hash.
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func newFlagSet(d RuntimeConfig) *pflag.FlagSet {
	set := pflag.NewFlagSet("chathub", pflag.ContinueOnError)
	set.SetOutput(io.Discard)

	set.Int("port", d.Port, "listen port for HTTP and WebSocket traffic")
	set.String("host", d.Host, "listen host (empty for all interfaces)")
	set.String("logDir", d.LogDir, "directory for day-stamped log files")
	set.String("logLevel", d.LogLevel.String(), "minimum log level: debug, info, warn, error")
	set.Int("maxConnections", d.MaxConnections, "maximum concurrent WebSocket connections")
	set.Duration("idleTimeout", d.IdleTimeout, "close connections idle for longer than this")
	set.Duration("heartbeatInterval", d.HeartbeatInterval, "interval between heartbeat pings")
	set.Duration("metricsInterval", d.MetricsInterval, "interval between metrics broadcasts")
	set.Duration("sessionTTL", d.SessionTTL, "administrator session lifetime")
	set.String("adminUsername", d.AdminUsername, "administrator username")
	set.String("adminPasswordHash", d.AdminPasswordHash, "bcrypt hash of the administrator password")
	set.Bool("adminEnabled", d.AdminEnabled, "serve the administrative console")
	set.Bool("authRequired", d.AuthRequired, "require an administrator session for admin routes")
	set.String("adminRoot", d.AdminRoot, "directory holding the admin console assets")
	set.String("allowedOrigins", d.AllowedOrigins, "comma-separated WebSocket origins, * for any")
	set.Int64("maxMessageSize", d.MaxMessageSize, "maximum inbound WebSocket message size in bytes")
	set.Int("sendQueueSize", d.SendQueueSize, "per-connection outbound queue length")
	set.Int("rateLimitBurst", d.RateLimitBurst, "inbound messages allowed per rate limit interval")
	set.Duration("rateLimitInterval", d.RateLimitInterval, "rate limit refill interval")
	return set
}

// normalizeArgs rewrites "--key value" pairs into "--key=value" so boolean keys
// accept an explicit value, and drops unknown keys along with their value.
// Positional arguments carry no configuration and are dropped as well.
func normalizeArgs(set *pflag.FlagSet, argv []string) []string {
	out := make([]string, 0, len(argv))
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if !strings.HasPrefix(arg, "--") || arg == "--" {
			continue
		}

		name, value, hasValue := strings.Cut(arg[2:], "=")
		if !hasValue && i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "--") {
			value, hasValue = argv[i+1], true
			i++
		}

		flag := set.Lookup(name)
		if flag == nil {
			continue
		}
		if !hasValue {
			if flag.Value.Type() == "bool" {
				value = "true"
			} else {
				// let the parser report the missing value
				out = append(out, "--"+name)
				continue
			}
		}
		out = append(out, "--"+name+"="+value)
	}
	return out
}

// SplitConfigPath extracts the --config flag from argv, returning its value
// (or fallback when absent) and the remaining arguments.
func SplitConfigPath(argv []string, fallback string) (string, []string) {
	path := fallback
	rest := make([]string, 0, len(argv))
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--config" || arg == "-c":
			if i+1 < len(argv) {
				path = argv[i+1]
				i++
			}
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		default:
			rest = append(rest, arg)
		}
	}
	return path, rest
}
