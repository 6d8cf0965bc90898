package main

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"stampede/internal/config"
)

const envPrefix = "STAMPEDE"

func registerFlags(fs *pflag.FlagSet) {
	d := config.Default()

	fs.StringP("mode", "m", string(d.Mode), "work source: discover, single or file")
	fs.StringP("method", "M", d.Method, "HTTP method")
	fs.IntP("concurrent", "c", d.Concurrency, "number of concurrent workers")
	fs.IntP("timeout-connect", "T", millis(d.ConnectTimeout), "connect timeout in milliseconds")
	fs.IntP("timeout", "t", millis(d.Timeout), "total request timeout in milliseconds")
	fs.BoolP("disable-compression", "C", false, "do not send Accept-Encoding")
	fs.BoolP("verbose", "v", false, "log every request outcome")
	fs.IntP("requests", "n", 0, "number of requests to issue (default 1000 in single and file mode without --duration)")
	fs.StringP("duration", "d", "", "run duration: <n>[smhdMy] or a Go duration")
	fs.BoolP("follow-redirects", "f", false, "follow up to 5 redirects")
	fs.StringArrayP("header", "H", nil, `request header "Key: Value" (repeatable)`)
	fs.StringArrayP("domains", "D", nil, "additional allowed domains, comma separated (*, *.example.com)")
	fs.BoolP("prevent-duplicate-requests", "p", false, "fetch each discovered URL at most once")
	fs.Bool("no-delayed-start", false, "start immediately after printing the configuration")
	fs.StringP("basic-auth", "b", "", "basic auth credentials user[:password]")
	fs.BoolP("random-arguments", "r", false, "expand %RAND(min,max)% placeholders per request")
	fs.String("body", "", "request body for POST, PUT and PATCH")
	fs.String("user-agent", "", "User-Agent header (default stampede/<version>)")
	fs.Int("rate", 0, "max requests per second across all workers (0 = unlimited)")
	fs.String("dedupe-query", d.DedupeQuery, "query handling for duplicate detection: keep, sort or strip")
	fs.Bool("insecure", false, "skip TLS certificate verification")
	fs.String("config", "", "YAML run file")
	fs.StringP("output", "o", d.Output, "report format: text or json")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	fs.Duration("progress-interval", d.ProgressInterval.Std(), "progress snapshot interval (0 disables)")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error or none")
	fs.String("log-format", d.LogFormat, "log format: text or json")
	fs.BoolP("quiet", "q", false, "suppress the banner and progress output")
}

func millis(d config.Duration) int {
	return int(d.Std() / time.Millisecond)
}

func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

// loadConfig resolves the run configuration. A key is applied only when a
// flag was given or its environment variable is set, so YAML values survive
// untouched flag defaults.
func loadConfig(fs *pflag.FlagSet, args []string) (*config.RunConfig, error) {
	v, err := newViper(fs)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if path := v.GetString("config"); path != "" {
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, &config.ConfigError{Field: "config file", Err: err}
		}
	}

	if err := applyOverrides(v, fs, cfg); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.Target = args[0]
	}
	cfg.Normalize()
	return cfg, nil
}

func applyOverrides(v *viper.Viper, fs *pflag.FlagSet, cfg *config.RunConfig) error {
	if v.IsSet("mode") {
		cfg.Mode = config.Mode(v.GetString("mode"))
	}
	if v.IsSet("method") {
		cfg.Method = v.GetString("method")
	}
	if v.IsSet("concurrent") {
		cfg.Concurrency = v.GetInt("concurrent")
	}
	if v.IsSet("timeout-connect") {
		cfg.ConnectTimeout = config.Duration(time.Duration(v.GetInt("timeout-connect")) * time.Millisecond)
	}
	if v.IsSet("timeout") {
		cfg.Timeout = config.Duration(time.Duration(v.GetInt("timeout")) * time.Millisecond)
	}
	if v.IsSet("requests") {
		cfg.MaxRequests = v.GetInt("requests")
	}
	if v.IsSet("duration") {
		d, err := config.ParseDuration(v.GetString("duration"))
		if err != nil {
			return err
		}
		cfg.Duration = config.Duration(d)
	}
	if v.IsSet("progress-interval") {
		cfg.ProgressInterval = config.Duration(v.GetDuration("progress-interval"))
	}

	setBool(v, "disable-compression", &cfg.DisableCompression)
	setBool(v, "verbose", &cfg.Verbose)
	setBool(v, "follow-redirects", &cfg.FollowRedirects)
	setBool(v, "prevent-duplicate-requests", &cfg.PreventDuplicates)
	setBool(v, "no-delayed-start", &cfg.NoDelayedStart)
	setBool(v, "random-arguments", &cfg.RandomArguments)
	setBool(v, "insecure", &cfg.Insecure)
	setBool(v, "quiet", &cfg.Quiet)

	setString(v, "body", &cfg.Body)
	setString(v, "user-agent", &cfg.UserAgent)
	setString(v, "dedupe-query", &cfg.DedupeQuery)
	setString(v, "output", &cfg.Output)
	setString(v, "metrics-addr", &cfg.MetricsAddr)
	setString(v, "log-level", &cfg.LogLevel)
	setString(v, "log-format", &cfg.LogFormat)

	if v.IsSet("rate") {
		cfg.Rate = v.GetInt("rate")
	}

	if raw, ok := stringList(v, fs, "header"); ok {
		headers, err := config.ParseHeaders(raw)
		if err != nil {
			return err
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(headers))
		}
		for name, value := range headers {
			cfg.Headers[name] = value
		}
	}

	if raw, ok := stringList(v, fs, "domains"); ok {
		cfg.AllowedDomains = config.ParseDomains(raw)
	}

	if v.IsSet("basic-auth") {
		auth, err := config.ParseBasicAuth(v.GetString("basic-auth"))
		if err != nil {
			return err
		}
		cfg.BasicAuth = auth
	}

	return nil
}

func setBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

// stringList returns a repeatable flag's values, or the environment value
// split on newlines.
func stringList(v *viper.Viper, fs *pflag.FlagSet, key string) ([]string, bool) {
	if fs.Changed(key) {
		values, err := fs.GetStringArray(key)
		return values, err == nil
	}
	if !v.IsSet(key) {
		return nil, false
	}
	var values []string
	for _, line := range strings.Split(v.GetString(key), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			values = append(values, line)
		}
	}
	return values, true
}
