// Package config holds the robot UDP protocol's fixed constants and the
// per-run knobs a client invocation can layer on top of them: CLI flags,
// an optional ini override file, and compiled-in defaults, in that order
// of precedence.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Protocol constants fixed by spec. Default seeds ClientConfig with them;
// LoadFile may override the handshake retries, both timeouts and the stuck
// limit, never the ports, window size or chunk size.
const (
	RemotePort       = 4000
	LocalPort        = 4000
	WindowSize       = 8
	ChunkSize        = 255
	HandshakeRetries = 20
	HandshakeTimeout = 100 * time.Millisecond
	ResendTimeout    = 100 * time.Millisecond
	StuckLimit       = 20
	DefaultOutput    = "foto.png"
)

// ValidationError reports a bad per-run configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Message)
}

// ClientConfig is the fully resolved configuration for one client run.
type ClientConfig struct {
	Host        string
	FilePath    string // empty for DOWNLOAD, set for UPLOAD
	OutputPath  string // download destination, defaults to DefaultOutput
	MetricsAddr string // empty disables the metrics HTTP listener

	RemotePort       int
	LocalPort        int
	WindowSize       int
	ChunkSize        int
	HandshakeRetries int
	HandshakeTimeout time.Duration
	ResendTimeout    time.Duration
	StuckLimit       int
}

// Default returns a ClientConfig seeded with the spec's fixed constants.
func Default() ClientConfig {
	return ClientConfig{
		OutputPath:       DefaultOutput,
		RemotePort:       RemotePort,
		LocalPort:        LocalPort,
		WindowSize:       WindowSize,
		ChunkSize:        ChunkSize,
		HandshakeRetries: HandshakeRetries,
		HandshakeTimeout: HandshakeTimeout,
		ResendTimeout:    ResendTimeout,
		StuckLimit:       StuckLimit,
	}
}

// LoadFile overlays an ini file's [protocol] and [client] sections onto
// cfg. An empty path is a no-op; a path that cannot be loaded is an error.
func LoadFile(cfg ClientConfig, path string) (ClientConfig, error) {
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("config: loading %s: %w", path, err)
	}

	if sec := f.Section("client"); sec != nil {
		if k := sec.Key("metrics_addr"); k.String() != "" {
			cfg.MetricsAddr = k.String()
		}
		if k := sec.Key("output_path"); k.String() != "" {
			cfg.OutputPath = k.String()
		}
	}

	if sec := f.Section("protocol"); sec != nil {
		if v, err := sec.Key("handshake_retries").Int(); err == nil && v > 0 {
			cfg.HandshakeRetries = v
		}
		if v, err := sec.Key("handshake_timeout_ms").Int(); err == nil && v > 0 {
			cfg.HandshakeTimeout = time.Duration(v) * time.Millisecond
		}
		if v, err := sec.Key("resend_timeout_ms").Int(); err == nil && v > 0 {
			cfg.ResendTimeout = time.Duration(v) * time.Millisecond
		}
		if v, err := sec.Key("stuck_limit").Int(); err == nil && v > 0 {
			cfg.StuckLimit = v
		}
	}

	return cfg, nil
}

// ValidateHost reports whether host parses as an IP or a syntactically
// valid hostname.
func ValidateHost(host string) error {
	if strings.TrimSpace(host) == "" {
		return ValidationError{Field: "host", Message: "must not be empty"}
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 {
		return ValidationError{Field: "host", Message: "hostname too long"}
	}
	for _, label := range strings.Split(host, ".") {
		if !isValidLabel(label) {
			return ValidationError{Field: "host", Message: "invalid hostname"}
		}
	}
	return nil
}

func isValidLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		alnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !alnum && !(c == '-' && i != 0 && i != len(label)-1) {
			return false
		}
	}
	return true
}

// ValidatePort reports whether port is a usable UDP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return ValidationError{Field: "port", Message: "must be between 1 and 65535"}
	}
	return nil
}

// ParsePort converts a textual port, used by CLI flag handling.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, ValidationError{Field: "port", Message: "must be numeric"}
	}
	return p, nil
}
