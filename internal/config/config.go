// Package config resolves FlowGate's settings from flags, environment
// variables, and an optional YAML file, in that order of precedence,
// following the cobra+viper layering used by the rest of the retrieved
// corpus's CLI entry points (e.g. cmd/divinesense/main.go).
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of FlowGate settings.
type Config struct {
	Port      int
	OllamaURL string
	NoFileLog bool

	BodyLimitMB     int
	DispatchDelayMS int

	BlocklistBackend string // "file" or "redis"
	BlocklistPath    string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	AuditDSN string

	Dashboard bool
}

// BodyLimitBytes converts BodyLimitMB to bytes.
func (c Config) BodyLimitBytes() int64 {
	return int64(c.BodyLimitMB) * 1024 * 1024
}

// DispatchDelay converts DispatchDelayMS to a time.Duration.
func (c Config) DispatchDelay() time.Duration {
	return time.Duration(c.DispatchDelayMS) * time.Millisecond
}

// Bind registers FlowGate's flags on cmd and binds them into v, mirroring
// the pack's flag-then-BindPFlag-then-AutomaticEnv sequencing.
func Bind(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()

	flags.String("config", "", "path to an optional YAML config file")

	flags.IntP("port", "p", 11435, "port to listen on")
	flags.StringP("ollama-url", "o", "http://localhost:11434", "base URL of the upstream inference backend")
	flags.Bool("no-file-log", false, "log to stderr instead of a log file")

	flags.Int("body-limit-mb", 50, "maximum request body size, in megabytes")
	flags.Int("dispatch-delay-ms", 0, "artificial delay before each dispatch, in milliseconds (0 disables it)")

	flags.String("blocklist-backend", "file", `access-control backend: "file" or "redis"`)
	flags.String("blocklist-path", "blocked_items.json", "path to the JSON block list file (file backend only)")
	flags.String("redis-addr", "localhost:6379", "redis address (redis backend only)")
	flags.String("redis-password", "", "redis password (redis backend only)")
	flags.Int("redis-db", 0, "redis database index (redis backend only)")

	flags.String("audit-dsn", "", "postgres DSN for durable audit logging (optional)")

	flags.Bool("dashboard", true, "enable the /dashboard and /dashboard/ws endpoints")

	for _, name := range []string{
		"config",
		"port", "ollama-url", "no-file-log",
		"body-limit-mb", "dispatch-delay-ms",
		"blocklist-backend", "blocklist-path",
		"redis-addr", "redis-password", "redis-db",
		"audit-dsn", "dashboard",
	} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
	}

	v.SetEnvPrefix("flowgate")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return nil
}

// ReadConfigFile loads the YAML file named by --config into v, if one was
// given. A missing file is not an error; a malformed one is.
func ReadConfigFile(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// Load reads the bound values back out of v into a Config.
func Load(v *viper.Viper) Config {
	ollamaURL := strings.TrimSuffix(v.GetString("ollama-url"), "/")

	return Config{
		Port:      v.GetInt("port"),
		OllamaURL: ollamaURL,
		NoFileLog: v.GetBool("no-file-log"),

		BodyLimitMB:     v.GetInt("body-limit-mb"),
		DispatchDelayMS: v.GetInt("dispatch-delay-ms"),

		BlocklistBackend: v.GetString("blocklist-backend"),
		BlocklistPath:    v.GetString("blocklist-path"),
		RedisAddr:        v.GetString("redis-addr"),
		RedisPassword:    v.GetString("redis-password"),
		RedisDB:          v.GetInt("redis-db"),

		AuditDSN: v.GetString("audit-dsn"),

		Dashboard: v.GetBool("dashboard"),
	}
}
