// Package config provides YAML- and environment-based configuration loading,
// validation, and defaults for the ServiceNow MCP agent.
//
// Credentials are deliberately not validated here. A missing SN_INSTANCE,
// SN_USER or SN_PASS is reported by the ServiceNow client on the first tool
// call, before any network I/O.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read on top of the YAML file.
const (
	EnvInstance  = "SN_INSTANCE"
	EnvUser      = "SN_USER"
	EnvPassword  = "SN_PASS"
	EnvLogLevel  = "SN_LOG_LEVEL"
	EnvTransport = "SN_TRANSPORT"
)

// Transport names.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the top-level configuration for the agent.
type Config struct {
	ServiceNow    ServiceNowConfig    `yaml:"servicenow"`
	Server        ServerConfig        `yaml:"server"`
	Tools         ToolsConfig         `yaml:"tools"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         AuditConfig         `yaml:"audit"`
	LogLevel      string              `yaml:"log_level"`
}

// ServiceNowConfig holds ServiceNow instance connection settings.
type ServiceNowConfig struct {
	BaseURL        string     `yaml:"base_url"`
	APIPath        string     `yaml:"api_path"`
	Auth           AuthConfig `yaml:"auth"`
	TimeoutSeconds int        `yaml:"timeout_seconds"`
	RateLimitRPS   float64    `yaml:"rate_limit_rps"`
}

// AuthConfig holds the static credentials sent with every request.
type AuthConfig struct {
	Basic BasicConfig `yaml:"basic"`
}

// BasicConfig holds HTTP Basic Auth credentials.
type BasicConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MissingCredentials returns the environment names of the credentials that
// are not set, in a stable order. An empty result means the client can
// authenticate.
func (s ServiceNowConfig) MissingCredentials() []string {
	var missing []string
	if strings.TrimSpace(s.BaseURL) == "" {
		missing = append(missing, EnvInstance)
	}
	if s.Auth.Basic.Username == "" {
		missing = append(missing, EnvUser)
	}
	if s.Auth.Basic.Password == "" {
		missing = append(missing, EnvPassword)
	}
	return missing
}

// ServerConfig controls the MCP transport.
type ServerConfig struct {
	Transport    string `yaml:"transport"` // "stdio" or "http"
	Addr         string `yaml:"addr"`
	EndpointPath string `yaml:"endpoint_path"`
}

// ToolsConfig holds the fixed result limits of the tools.
type ToolsConfig struct {
	KnowledgeLimit int `yaml:"knowledge_limit"`
	UserLimit      int `yaml:"user_limit"`
	SnippetLength  int `yaml:"snippet_length"`
}

// ObservabilityConfig controls the metrics/health HTTP server. An empty
// address disables it.
type ObservabilityConfig struct {
	Addr string `yaml:"addr"`
}

// AuditConfig controls the optional Kafka audit stream of tool invocations.
type AuditConfig struct {
	Enabled            bool        `yaml:"enabled"`
	Topic              string      `yaml:"topic"`
	Encoding           string      `yaml:"encoding"`    // "json" or "avro"
	Partitioner        string      `yaml:"partitioner"` // "default", "round_robin", "field_based"
	PartitionKeyFields []string    `yaml:"partition_key_fields"`
	Kafka              KafkaConfig `yaml:"kafka"`
}

// KafkaConfig holds kafka broker and security settings.
type KafkaConfig struct {
	Brokers           []string   `yaml:"brokers"`
	TLS               TLSConfig  `yaml:"tls"`
	SASL              SASLConfig `yaml:"sasl"`
	SchemaRegistryURL string     `yaml:"schema_registry_url"`
}

// TLSConfig enables TLS for Kafka connections.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CACert   string `yaml:"ca_cert"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SASLConfig enables SASL for Kafka connections.
type SASLConfig struct {
	Mechanism string `yaml:"mechanism"` // "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Load builds the configuration from an optional YAML file and the process
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand ${VAR} and $VAR references in the YAML.
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyEnv overlays the SN_* environment variables. Set variables win over
// the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvInstance); v != "" {
		cfg.ServiceNow.BaseURL = v
	}
	if v := os.Getenv(EnvUser); v != "" {
		cfg.ServiceNow.Auth.Basic.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		cfg.ServiceNow.Auth.Basic.Password = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvTransport); v != "" {
		cfg.Server.Transport = v
	}
}

// applyDefaults sets default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	sn := &cfg.ServiceNow
	if sn.APIPath == "" {
		sn.APIPath = "/api"
	}
	if sn.TimeoutSeconds == 0 {
		sn.TimeoutSeconds = 15
	}

	srv := &cfg.Server
	if srv.Transport == "" {
		srv.Transport = TransportStdio
	}
	if srv.Addr == "" {
		srv.Addr = ":8000"
	}
	if srv.EndpointPath == "" {
		srv.EndpointPath = "/mcp"
	}

	t := &cfg.Tools
	if t.KnowledgeLimit == 0 {
		t.KnowledgeLimit = 3
	}
	if t.UserLimit == 0 {
		t.UserLimit = 5
	}
	if t.SnippetLength == 0 {
		t.SnippetLength = 200
	}

	a := &cfg.Audit
	if a.Encoding == "" {
		a.Encoding = "json"
	}
	if a.Partitioner == "" {
		a.Partitioner = "default"
	}
	a.Kafka.SASL.Mechanism = strings.ToUpper(strings.TrimSpace(a.Kafka.SASL.Mechanism))
}

// Validate checks the configuration and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []error

	// ServiceNow. The base URL is optional here, but must be usable when set.
	if cfg.ServiceNow.BaseURL != "" {
		if u, err := url.Parse(cfg.ServiceNow.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("servicenow.base_url is not a valid URL: %s", cfg.ServiceNow.BaseURL))
		}
	}
	if !strings.HasPrefix(cfg.ServiceNow.APIPath, "/") {
		errs = append(errs, fmt.Errorf("servicenow.api_path must start with '/', got %q", cfg.ServiceNow.APIPath))
	}
	if cfg.ServiceNow.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("servicenow.timeout_seconds must not be negative"))
	}
	if cfg.ServiceNow.RateLimitRPS < 0 {
		errs = append(errs, errors.New("servicenow.rate_limit_rps must not be negative"))
	}

	// Server
	switch cfg.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("server.transport must be 'stdio' or 'http', got %q", cfg.Server.Transport))
	}
	if !strings.HasPrefix(cfg.Server.EndpointPath, "/") {
		errs = append(errs, fmt.Errorf("server.endpoint_path must start with '/', got %q", cfg.Server.EndpointPath))
	}

	// Tools
	if cfg.Tools.KnowledgeLimit < 0 || cfg.Tools.UserLimit < 0 || cfg.Tools.SnippetLength < 0 {
		errs = append(errs, errors.New("tools limits must not be negative"))
	}

	// Audit
	if cfg.Audit.Enabled {
		a := cfg.Audit
		if len(a.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("audit.kafka.brokers must contain at least one broker when audit is enabled"))
		}
		if a.Topic == "" {
			errs = append(errs, errors.New("audit.topic is required when audit is enabled"))
		}
		switch a.Encoding {
		case "json", "avro":
		default:
			errs = append(errs, fmt.Errorf("audit.encoding must be 'json' or 'avro', got %q", a.Encoding))
		}
		switch a.Partitioner {
		case "default", "round_robin", "field_based":
		default:
			errs = append(errs, fmt.Errorf("audit.partitioner must be 'default', 'round_robin', or 'field_based', got %q", a.Partitioner))
		}
		if a.Partitioner == "field_based" && len(a.PartitionKeyFields) == 0 {
			errs = append(errs, errors.New("audit.partition_key_fields required when partitioner is 'field_based'"))
		}
		errs = append(errs, validateKafka(a.Kafka)...)
	}

	return errors.Join(errs...)
}

func validateKafka(k KafkaConfig) []error {
	var errs []error
	if k.TLS.Enabled {
		if k.TLS.CertFile == "" && k.TLS.KeyFile != "" {
			errs = append(errs, errors.New("audit.kafka.tls.cert_file is required when key_file is set"))
		}
		if k.TLS.KeyFile == "" && k.TLS.CertFile != "" {
			errs = append(errs, errors.New("audit.kafka.tls.key_file is required when cert_file is set"))
		}
		for _, entry := range []struct {
			name  string
			value string
		}{
			{name: "audit.kafka.tls.ca_cert", value: k.TLS.CACert},
			{name: "audit.kafka.tls.cert_file", value: k.TLS.CertFile},
			{name: "audit.kafka.tls.key_file", value: k.TLS.KeyFile},
		} {
			if entry.value == "" {
				continue
			}
			if _, err := os.Stat(entry.value); err != nil {
				errs = append(errs, fmt.Errorf("%s not found: %s", entry.name, entry.value))
			}
		}
	}
	if k.SASL.Mechanism != "" {
		switch strings.ToUpper(k.SASL.Mechanism) {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			errs = append(errs, fmt.Errorf("audit.kafka.sasl.mechanism must be PLAIN, SCRAM-SHA-256, or SCRAM-SHA-512, got %q", k.SASL.Mechanism))
		}
		if k.SASL.Username == "" || k.SASL.Password == "" {
			errs = append(errs, errors.New("audit.kafka.sasl.username and audit.kafka.sasl.password are required when sasl.mechanism is set"))
		}
	}
	return errs
}
