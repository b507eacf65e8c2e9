package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	// ConfigPath is the variable which stores the config path command line parameter
	ConfigPath string
	// Flags are command line values taking precedence over the config file
	Flags Overrides
)

// Overrides of single config fields. Empty values are ignored.
type Overrides struct {
	Protocol string
	Role     string
	Target   string
	LogLevel string
}

// Apply writes the non empty overrides into c
func (o Overrides) Apply(c *Config) {
	if o.Protocol != "" {
		c.Protocol = o.Protocol
	}
	if o.Role != "" {
		c.Role = o.Role
	}
	if o.Target != "" {
		c.Target = o.Target
	}
	if o.LogLevel != "" {
		c.LogConfig.Level = o.LogLevel
	}
}

// Config stores the config for the tool
type Config struct {
	// Protocol family to speak, one of tls|dtls|quic|smtp|pop3
	Protocol string `json:"protocol"`
	// Role of the local end, initiator (client) or responder (server)
	Role string `json:"role"`
	// Target address of the peer when acting as initiator, listen address otherwise
	Target string `json:"target"`
	// Network is tcp or udp. Empty picks the default of the protocol family
	Network string `json:"network"`
	// Timeout for a single receive call
	Timeout Duration `json:"timeout"`
	// MaxReceiveReads bounds the number of reads of one receive action
	MaxReceiveReads int `json:"max_receive_reads"`
	// Coalesce contiguous messages of the same content type into one wire unit
	Coalesce bool `json:"coalesce"`
	// QuickReceive stops a receive action once all expected messages arrived
	QuickReceive bool `json:"quick_receive"`
	// StopOnFatal stops a receive action on a fatal alert or a connection close
	StopOnFatal bool `json:"stop_on_fatal"`
	// Options are protocol family specific and decoded by the family
	Options map[string]interface{} `json:"options"`
	// FuzzConfig configuration for fuzzing campaigns
	FuzzConfig FuzzConfig `json:"fuzz"`
	// StoreConfig configuration of the report store
	StoreConfig StoreConfig `json:"store"`
	// APIServerAddr address of the APIServer
	APIServerAddr string `json:"server_addr"`
	// LogConfig configuration for logging
	LogConfig LogConfig `json:"log"`
}

// LogConfig stores the config for logging purpose
type LogConfig struct {
	// Path of the log file
	Path string `json:"path"`
	// Format to log. Only `json` is currently supported
	Format string `json:"format"`
	// Level log level, one of panic|fatal|error|warn|warning|info|debug|trace
	Level string `json:"level"`
}

// FuzzConfig stores the parameters of a fuzzing campaign
type FuzzConfig struct {
	Iterations int   `json:"iterations"`
	Workers    int   `json:"workers"`
	Seed       int64 `json:"seed"`
	// Percentage chance of mutating a single field
	Percentage int `json:"percentage"`
	// MaxMutations per run
	MaxMutations int    `json:"max_mutations"`
	Whitelist    string `json:"whitelist"`
	Blacklist    string `json:"blacklist"`
	// CorpusPath file the findings are appended to
	CorpusPath string `json:"corpus_path"`
}

// StoreConfig selects the report store
type StoreConfig struct {
	// Type is memory or redis
	Type     string   `json:"type"`
	Addr     string   `json:"addr"`
	Password string   `json:"password"`
	DB       int      `json:"db"`
	Prefix   string   `json:"prefix"`
	TTL      Duration `json:"ttl"`
}

// Duration is a time.Duration read from a string such as "2s"
type Duration struct {
	time.Duration
}

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts either a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val)
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// Default returns the configuration used when a field is not present in the config file
func Default() *Config {
	return &Config{
		Protocol:        "tls",
		Role:            "initiator",
		Target:          "127.0.0.1:4433",
		Timeout:         Duration{2 * time.Second},
		MaxReceiveReads: 32,
		Coalesce:        true,
		QuickReceive:    true,
		StopOnFatal:     true,
		Options:         make(map[string]interface{}),
		FuzzConfig: FuzzConfig{
			Iterations:   100,
			Workers:      1,
			Seed:         1,
			Percentage:   20,
			MaxMutations: 5,
		},
		StoreConfig: StoreConfig{
			Type:   "memory",
			Prefix: "wiretamper:report:",
		},
		APIServerAddr: "0.0.0.0:7074",
		LogConfig: LogConfig{
			Path:   "",
			Format: "json",
			Level:  "info",
		},
	}
}

// ParseConfig parses config from the specificied file
func ParseConfig(path string) (*Config, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %s", err)
	}
	return ParseConfigBytes(bytes)
}

// Load reads the config at path when it exists, falling back to the defaults,
// and applies the command line flags
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		_, statErr := os.Stat(path)
		if statErr == nil {
			parsed, err := ParseConfig(path)
			if err != nil {
				return nil, err
			}
			c = parsed
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %s", statErr)
		}
	}
	Flags.Apply(c)
	return c, nil
}

// ParseConfigBytes parses config from raw json on top of the defaults
func ParseConfigBytes(bytes []byte) (*Config, error) {
	defaultConfig := Default()
	err := json.Unmarshal(bytes, &defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %s", err)
	}
	if defaultConfig.Options == nil {
		defaultConfig.Options = make(map[string]interface{})
	}
	return defaultConfig, nil
}
