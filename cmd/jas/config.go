package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/arnodel/arraystream"
	"github.com/arnodel/arraystream/chunk"
	"github.com/arnodel/arraystream/httpsource"
)

var (
	ErrHelp                = errors.New("help requested")
	ErrNoInputs            = errors.New("no input specified")
	ErrNegativeLevel       = errors.New("level cannot be negative")
	ErrNegativeLimit       = errors.New("limit cannot be negative")
	ErrNegativeRate        = errors.New("rate cannot be negative")
	ErrInvalidColor        = errors.New("color must be one of: auto, always, never")
	ErrInvalidLogLevel     = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidHeaderFormat = errors.New("header must be in format name=value")
	ErrEmptyHeaderName     = errors.New("header name cannot be empty")
)

// Config holds the settings of a jas run.  It can be loaded from a YAML file,
// command line flags take precedence.
type Config struct {
	// Inputs: http(s) URLs, file paths, or "-" for stdin
	URLs []string `yaml:"urls"`

	// Streaming
	Level    int    `yaml:"level"`
	Capacity int    `yaml:"capacity"`
	Encoding string `yaml:"encoding"` // of stdin and files
	Limit    int    `yaml:"limit"`    // 0 = no limit
	Filter   string `yaml:"filter"`

	// HTTP client configuration
	Headers    map[string]string `yaml:"headers"`
	Compressed bool              `yaml:"compressed"`
	Timeout    time.Duration     `yaml:"timeout"`
	RateLimit  float64           `yaml:"rate"` // Requests per second (0 = unlimited)
	Insecure   bool              `yaml:"insecure"`
	CACertFile string            `yaml:"ca_cert"`

	// Output
	Color    string `yaml:"color"`
	Indent   int    `yaml:"indent"`
	Compact  bool   `yaml:"compact"`
	LogLevel string `yaml:"log_level"`
}

func defaultConfig() *Config {
	return &Config{
		Level:    1,
		Capacity: arraystream.DefaultCapacity,
		Timeout:  httpsource.DefaultTimeout,
		Color:    "auto",
		Indent:   2,
		LogLevel: "warn",
	}
}

// Parse parses the command line.  If a -config file is given it is loaded
// first and the flags that were set explicitly override its values.
func Parse(args []string) (*Config, error) {
	cfg := defaultConfig()
	if len(args) == 0 {
		return nil, ErrNoInputs
	}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	var configFile string
	fs.StringVar(&configFile, "config", "", "path to a YAML configuration file")
	registerFlags(fs, cfg)

	if err := fs.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	if configFile != "" {
		flags := cfg
		cfg = defaultConfig()
		if err := loadConfigFile(configFile, cfg); err != nil {
			return nil, err
		}
		// Re-apply the flags that were given over the file contents.
		var err error
		fs.Visit(func(f *flag.Flag) {
			if err == nil && f.Name != "config" {
				err = overrideFlag(cfg, flags, f.Name)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	if fs.NArg() > 0 {
		cfg.URLs = fs.Args()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func registerFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Level, "level", cfg.Level, "nesting level of the elements (0 = top-level values)")
	fs.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "initial buffer capacity in bytes")
	fs.StringVar(&cfg.Encoding, "encoding", cfg.Encoding, "content encoding of stdin and files: gzip, deflate, zstd")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "stop after N elements (0 for no limit)")
	fs.StringVar(&cfg.Filter, "filter", cfg.Filter, "JSONPath query applied to each element")
	fs.Var((*headersFlag)(&cfg.Headers), "header", "request header in format name=value (can be used multiple times)")
	fs.BoolVar(&cfg.Compressed, "compressed", cfg.Compressed, "request a compressed response")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "maximum wait for response headers")
	fs.Float64Var(&cfg.RateLimit, "rate", cfg.RateLimit, "requests per second (0 for unlimited)")
	fs.BoolVar(&cfg.Insecure, "insecure", cfg.Insecure, "skip TLS certificate verification")
	fs.StringVar(&cfg.CACertFile, "ca-cert", cfg.CACertFile, "path to CA certificate file for TLS verification")
	fs.StringVar(&cfg.Color, "color", cfg.Color, "colorize output: auto, always, never")
	fs.IntVar(&cfg.Indent, "indent", cfg.Indent, "JSON indentation (ignored with -compact)")
	fs.BoolVar(&cfg.Compact, "compact", cfg.Compact, "print each element on a single line")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
}

func overrideFlag(dst, src *Config, name string) error {
	switch name {
	case "level":
		dst.Level = src.Level
	case "capacity":
		dst.Capacity = src.Capacity
	case "encoding":
		dst.Encoding = src.Encoding
	case "limit":
		dst.Limit = src.Limit
	case "filter":
		dst.Filter = src.Filter
	case "header":
		if dst.Headers == nil {
			dst.Headers = make(map[string]string)
		}
		for k, v := range src.Headers {
			dst.Headers[k] = v
		}
	case "compressed":
		dst.Compressed = src.Compressed
	case "timeout":
		dst.Timeout = src.Timeout
	case "rate":
		dst.RateLimit = src.RateLimit
	case "insecure":
		dst.Insecure = src.Insecure
	case "ca-cert":
		dst.CACertFile = src.CACertFile
	case "color":
		dst.Color = src.Color
	case "indent":
		dst.Indent = src.Indent
	case "compact":
		dst.Compact = src.Compact
	case "log-level":
		dst.LogLevel = src.LogLevel
	default:
		return fmt.Errorf("unknown flag %q", name)
	}
	return nil
}

func loadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f, yaml.DisallowUnknownField()).Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file
			return nil
		}
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if len(c.URLs) == 0 {
		return ErrNoInputs
	}
	if c.Level < 0 {
		return ErrNegativeLevel
	}
	if c.Limit < 0 {
		return ErrNegativeLimit
	}
	if c.RateLimit < 0 {
		return ErrNegativeRate
	}
	if _, err := chunk.ParseEncoding(c.Encoding); err != nil {
		return err
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("%w, got: %s", ErrInvalidColor, c.Color)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w, got: %s", ErrInvalidLogLevel, c.LogLevel)
	}
	for name := range c.Headers {
		if strings.TrimSpace(name) == "" {
			return ErrEmptyHeaderName
		}
	}
	if c.CACertFile != "" {
		if _, err := os.Stat(c.CACertFile); err != nil {
			return fmt.Errorf("CA certificate file %s not found: %w", c.CACertFile, err)
		}
	}
	return nil
}

// TLSConfig returns a TLS configuration based on the config settings.
func (c *Config) TLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.Insecure,
	}
	if c.CACertFile != "" {
		caCertPool, err := x509.SystemCertPool()
		if err != nil {
			caCertPool = x509.NewCertPool()
		}
		caCert, err := os.ReadFile(c.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file %s: %w", c.CACertFile, err)
		}
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", c.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	return tlsConfig, nil
}

// ClientConfig returns the configuration of the HTTP client.
func (c *Config) ClientConfig() (httpsource.Config, error) {
	tlsConfig, err := c.TLSConfig()
	if err != nil {
		return httpsource.Config{}, fmt.Errorf("failed to create TLS configuration: %w", err)
	}
	var headers http.Header
	if len(c.Headers) > 0 {
		headers = make(http.Header, len(c.Headers))
		for name, value := range c.Headers {
			headers.Set(name, value)
		}
	}
	return httpsource.Config{
		TLSConfig:  tlsConfig,
		Timeout:    c.Timeout,
		RateLimit:  c.RateLimit,
		Compressed: c.Compressed,
		Headers:    headers,
	}, nil
}

// headersFlag implements flag.Value for parsing multiple -header flags.
type headersFlag map[string]string

func (h *headersFlag) String() string {
	if h == nil {
		return ""
	}
	var pairs []string
	for k, v := range *h {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (h *headersFlag) Set(value string) error {
	name, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("%w, got: %s", ErrInvalidHeaderFormat, value)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyHeaderName
	}
	if *h == nil {
		*h = make(map[string]string)
	}
	(*h)[name] = val
	return nil
}

// Usage returns a usage string for the CLI tool.
func Usage() string {
	return `jas - stream the elements of a JSON array

Usage: jas [options] <url|file|-> ...

Options:
  -config FILE          YAML configuration file (flags override it)
  -level N              Nesting level of the elements (default: 1, 0 for top-level values)
  -capacity N           Initial buffer capacity in bytes (default: 4096)
  -encoding ENC         Content encoding of stdin and files: gzip, deflate, zstd
  -limit N              Stop after N elements
  -filter QUERY         JSONPath query applied to each element, e.g. '$.name'
  -header NAME=VALUE    Request header (can be used multiple times)
  -compressed           Request a compressed response
  -timeout DURATION     Maximum wait for response headers (default: 30s)
  -rate N               Requests per second (0 for unlimited)
  -insecure             Skip TLS certificate verification
  -ca-cert FILE         Path to CA certificate file for TLS verification
  -color MODE           Colorize output: auto, always, never (default: auto)
  -indent N             JSON indentation (default: 2)
  -compact              Print each element on a single line
  -log-level LEVEL      Log level: debug, info, warn, error (default: warn)
  -h, -help             Show this help message

Examples:
  jas https://example.com/shops.json
  jas -level 2 -compressed -limit 10 https://example.com/api/shops
  jas -encoding gzip -filter '$.name' - < cities.json.gz`
}
