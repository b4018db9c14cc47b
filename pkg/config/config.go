// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads sinpd configuration from defaults, a YAML file, an
// optional profile overlay, SINP_ environment variables and key=value
// overrides, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/jllopis/sinp/pkg/errors"
)

// EnvPrefix prefixes environment overrides. Nested keys use "__", so
// SINP_NEGOTIATION__MAX_ROUNDS sets negotiation.max_rounds.
const EnvPrefix = "SINP_"

type Config struct {
	Log          LogConfig          `koanf:"log"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Server       ServerConfig       `koanf:"server"`
	Negotiation  NegotiationConfig  `koanf:"negotiation"`
	Security     SecurityConfig     `koanf:"security"`
	Interpreter  InterpreterConfig  `koanf:"interpreter"`
	Capabilities CapabilitiesConfig `koanf:"capabilities"`
	MCP          MCPConfig          `koanf:"mcp"`
	Governance   GovernanceConfig   `koanf:"governance"`
	Audit        AuditConfig        `koanf:"audit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter       string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint   string `koanf:"otlp_endpoint"`
	OTLPInsecure   bool   `koanf:"otlp_insecure"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
}

type ServerConfig struct {
	Addr            string          `koanf:"addr"`
	AdminAddr       string          `koanf:"admin_addr"`
	TLS             TLSConfig       `koanf:"tls"`
	ReadTimeout     time.Duration   `koanf:"read_timeout"`
	WriteTimeout    time.Duration   `koanf:"write_timeout"`
	MaxMessageBytes int             `koanf:"max_message_bytes"`
	MaxConnections  int             `koanf:"max_connections"`
	RejectMode      string          `koanf:"reject_mode"` // respond, drop
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"rps"` // 0 disables limiting
	Burst             int     `koanf:"burst"`
}

type NegotiationConfig struct {
	TauExec         float64       `koanf:"tau_exec"`
	TauClarify      float64       `koanf:"tau_clarify"`
	TauAccept       float64       `koanf:"tau_accept"`
	ProposeFloor    float64       `koanf:"propose_floor"`
	ProposeTopN     int           `koanf:"propose_top_n"`
	MaxRounds       int           `koanf:"max_rounds"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	HandlerTimeout  time.Duration `koanf:"handler_timeout"`
	ExpiredSessions int           `koanf:"expired_sessions"` // tombstones kept for session_expired
}

type SecurityConfig struct {
	ReplayWindow     time.Duration `koanf:"replay_window"`
	ClockSkew        time.Duration `koanf:"clock_skew"`
	ReplayCapacity   int           `koanf:"replay_capacity"`
	ReplayBackend    string        `koanf:"replay_backend"` // memory, redis
	Redis            RedisConfig   `koanf:"redis"`
	Keyring          string        `koanf:"keyring"`
	RequireSignature bool          `koanf:"require_signature"`
	Cache            CacheConfig   `koanf:"cache"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type CacheConfig struct {
	Enabled bool          `koanf:"enabled"`
	Size    int           `koanf:"size"`
	TTL     time.Duration `koanf:"ttl"`
}

type InterpreterConfig struct {
	Kind     string       `koanf:"kind"` // keyword, vector
	MinScore float64      `koanf:"min_score"`
	Weight   float64      `koanf:"weight"` // keyword score scale in (0,1]
	Fallback bool         `koanf:"fallback"` // keyword fallback when vector fails
	Qdrant   QdrantConfig `koanf:"qdrant"`  // empty addr selects the in-memory index
	Ollama   OllamaConfig `koanf:"ollama"`
}

type QdrantConfig struct {
	Addr       string `koanf:"addr"`
	Collection string `koanf:"collection"`
}

type OllamaConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

type CapabilitiesConfig struct {
	Manifest     string        `koanf:"manifest"`
	Builtins     []string      `koanf:"builtins"`
	LearningRate float64       `koanf:"learning_rate"`
	Breaker      BreakerConfig `koanf:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	SuccessThreshold int           `koanf:"success_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

type MCPServerConfig struct {
	Transport    string   `koanf:"transport"` // stdio, http
	Command      string   `koanf:"command"`
	Args         []string `koanf:"args"`
	Env          []string `koanf:"env"`
	URL          string   `koanf:"url"`
	Allow        []string `koanf:"allow"`
	Deny         []string `koanf:"deny"`
	Reliability  float64  `koanf:"reliability"`
	PrivacyLevel string   `koanf:"privacy_level"`
}

type GovernanceConfig struct {
	DefaultEffect string             `koanf:"default_effect"` // allow, deny
	Policies      []PolicyRuleConfig `koanf:"policies"`
	Guard         GuardConfig        `koanf:"guard"`
}

type PolicyRuleConfig struct {
	ID         string `koanf:"id"`
	Effect     string `koanf:"effect"`
	Capability string `koanf:"capability"`
	Privacy    string `koanf:"privacy"`
	Tag        string `koanf:"tag"`
	KeyID      string `koanf:"key_id"`
	Reason     string `koanf:"reason"`
}

type GuardConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Patterns        []string `koanf:"patterns"`
	MaxIntentLength int      `koanf:"max_intent_length"`
}

type AuditConfig struct {
	Driver string `koanf:"driver"` // none, memory, sqlite
	DSN    string `koanf:"dsn"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":                              "info",
		"log.format":                             "text",
		"telemetry.exporter":                     "none",
		"telemetry.service_name":                 "sinpd",
		"telemetry.otlp_endpoint":                "localhost:4317",
		"telemetry.otlp_insecure":                true,
		"server.addr":                            ":7450",
		"server.admin_addr":                      "",
		"server.read_timeout":                    30 * time.Second,
		"server.write_timeout":                   30 * time.Second,
		"server.max_message_bytes":               1 << 20,
		"server.max_connections":                 1024,
		"server.reject_mode":                     "respond",
		"server.rate_limit.rps":                  0.0,
		"server.rate_limit.burst":                20,
		"negotiation.tau_exec":                   0.85,
		"negotiation.tau_clarify":                0.50,
		"negotiation.tau_accept":                 0.50,
		"negotiation.propose_floor":              0.20,
		"negotiation.propose_top_n":              3,
		"negotiation.max_rounds":                 5,
		"negotiation.idle_timeout":               5 * time.Minute,
		"negotiation.handler_timeout":            10 * time.Second,
		"negotiation.expired_sessions":           4096,
		"security.replay_window":                 5 * time.Second,
		"security.clock_skew":                    2 * time.Second,
		"security.replay_capacity":               100000,
		"security.replay_backend":                "memory",
		"security.redis.addr":                    "localhost:6379",
		"security.redis.prefix":                  "sinp:nonce:",
		"security.require_signature":             true,
		"security.cache.enabled":                 true,
		"security.cache.size":                    1024,
		"security.cache.ttl":                     10 * time.Minute,
		"interpreter.kind":                       "keyword",
		"interpreter.min_score":                  0.20,
		"interpreter.weight":                     1.0,
		"interpreter.fallback":                   true,
		"interpreter.qdrant.collection":          "sinp_capabilities",
		"interpreter.ollama.base_url":            "http://localhost:11434",
		"interpreter.ollama.model":               "nomic-embed-text",
		"capabilities.builtins":                  []string{"echo", "reverse", "uppercase", "help"},
		"capabilities.learning_rate":             0.05,
		"capabilities.breaker.failure_threshold": 5,
		"capabilities.breaker.success_threshold": 2,
		"capabilities.breaker.open_timeout":      30 * time.Second,
		"governance.default_effect":              "allow",
		"governance.guard.enabled":               true,
		"governance.guard.max_intent_length":     4096,
		"audit.driver":                           "memory",
	}
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, "", nil)
}

// LoadWithProfile loads path and then overlays <name>.<profile><ext> from
// the same directory when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return LoadWithOverrides(path, profile, nil)
}

// LoadWithOverrides loads like LoadWithProfile and then applies key=value
// overrides such as "negotiation.max_rounds=3". Values are parsed as YAML,
// so lists and objects are accepted.
func LoadWithOverrides(path, profile string, overrides []string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, errors.New(errors.CodeInvalidConfig, "set default", err).WithContext("key", key)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeInvalidConfig, "load config file", err).WithContext("path", path)
		}
		if p := ProfilePath(path, profile); p != "" {
			if _, err := os.Stat(p); err == nil {
				if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
					return nil, errors.New(errors.CodeInvalidConfig, "load profile", err).WithContext("path", p)
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "load environment", err)
	}

	for _, o := range overrides {
		key, value, err := ParseOverride(o)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, value); err != nil {
			return nil, errors.New(errors.CodeInvalidConfig, "apply override", err).WithContext("key", key)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ProfilePath returns the overlay path for profile, or "" when profile is empty.
func ProfilePath(path, profile string) string {
	if path == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// ParseOverride splits "key=value" and decodes value as YAML.
func ParseOverride(s string) (string, any, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, errors.Newf(errors.CodeInvalidConfig, "override %q must be key=value", s)
	}
	var value any
	if err := yamlv3.Unmarshal([]byte(raw), &value); err != nil {
		return "", nil, errors.New(errors.CodeInvalidConfig, "parse override value", err).WithContext("key", key)
	}
	if value == nil {
		value = raw
	}
	return key, value, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks enumerations and ranges that decoding cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", c.Log.Format)
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return invalid("telemetry.exporter", c.Telemetry.Exporter)
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return errors.Newf(errors.CodeInvalidConfig, "server.tls requires cert_file and key_file")
	}
	if c.Server.MaxMessageBytes <= 0 {
		return invalid("server.max_message_bytes", c.Server.MaxMessageBytes)
	}
	if c.Server.RejectMode != "respond" && c.Server.RejectMode != "drop" {
		return invalid("server.reject_mode", c.Server.RejectMode)
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		return invalid("server.rate_limit.rps", c.Server.RateLimit.RequestsPerSecond)
	}

	n := c.Negotiation
	for name, v := range map[string]float64{
		"negotiation.tau_exec":      n.TauExec,
		"negotiation.tau_clarify":   n.TauClarify,
		"negotiation.tau_accept":    n.TauAccept,
		"negotiation.propose_floor": n.ProposeFloor,
		"interpreter.min_score":     c.Interpreter.MinScore,
	} {
		if !(v >= 0 && v <= 1) {
			return invalid(name, v)
		}
	}
	if n.TauClarify > n.TauExec {
		return errors.Newf(errors.CodeInvalidConfig, "negotiation.tau_clarify (%v) must not exceed tau_exec (%v)", n.TauClarify, n.TauExec)
	}
	if n.MaxRounds < 1 {
		return invalid("negotiation.max_rounds", n.MaxRounds)
	}
	if n.ProposeTopN < 1 {
		return invalid("negotiation.propose_top_n", n.ProposeTopN)
	}

	switch c.Security.ReplayBackend {
	case "memory", "redis":
	default:
		return invalid("security.replay_backend", c.Security.ReplayBackend)
	}
	if c.Security.ReplayWindow <= 0 {
		return invalid("security.replay_window", c.Security.ReplayWindow)
	}
	if c.Security.ClockSkew < 0 {
		return invalid("security.clock_skew", c.Security.ClockSkew)
	}

	switch c.Interpreter.Kind {
	case "keyword", "vector":
	default:
		return invalid("interpreter.kind", c.Interpreter.Kind)
	}
	if !(c.Interpreter.Weight > 0 && c.Interpreter.Weight <= 1) {
		return invalid("interpreter.weight", c.Interpreter.Weight)
	}
	if lr := c.Capabilities.LearningRate; !(lr > 0 && lr <= 1) {
		return invalid("capabilities.learning_rate", lr)
	}

	for name, s := range c.MCP.Servers {
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				return errors.Newf(errors.CodeInvalidConfig, "mcp server %q: stdio transport requires command", name)
			}
		case "http":
			if s.URL == "" {
				return errors.Newf(errors.CodeInvalidConfig, "mcp server %q: http transport requires url", name)
			}
		default:
			return invalid("mcp.servers."+name+".transport", s.Transport)
		}
	}

	if !validEffect(c.Governance.DefaultEffect) {
		return invalid("governance.default_effect", c.Governance.DefaultEffect)
	}
	for i, p := range c.Governance.Policies {
		if !validEffect(p.Effect) {
			return invalid("governance.policies["+strconv.Itoa(i)+"].effect", p.Effect)
		}
	}

	switch c.Audit.Driver {
	case "", "none", "memory":
	case "sqlite":
		if c.Audit.DSN == "" {
			return errors.Newf(errors.CodeInvalidConfig, "audit.dsn is required for the sqlite driver")
		}
	default:
		return invalid("audit.driver", c.Audit.Driver)
	}
	return nil
}

func validEffect(e string) bool {
	switch strings.ToLower(e) {
	case "", "allow", "deny":
		return true
	}
	return false
}

func invalid(key string, value any) error {
	return errors.Newf(errors.CodeInvalidConfig, "invalid value for %s: %v", key, value)
}
