package config

import (
	"fmt"
	"strings"

	"github.com/inthespace/tunneller/internal/router"
)

// Config is the persisted agent configuration. It round-trips losslessly
// through JSON; see Store for the live, mutable view.
type Config struct {
	Domain       string `json:"domain" yaml:"domain"`
	DomainSuffix string `json:"domainSuffix,omitempty" yaml:"domainSuffix,omitempty"`

	Mode Mode `json:"mode" yaml:"mode"`

	RawTargetHost string `json:"rawTargetHost" yaml:"rawTargetHost"`
	RawTargetPort int    `json:"rawTargetPort" yaml:"rawTargetPort"`

	SignalHost string `json:"signalHost" yaml:"signalHost"`
	SignalPort int    `json:"signalPort" yaml:"signalPort"`
	DataPort   int    `json:"dataPort" yaml:"dataPort"`

	Routes []router.Rule `json:"routes" yaml:"routes"`

	AutoSave             bool `json:"autoSave" yaml:"autoSave"`
	AutoLoad             bool `json:"autoLoad" yaml:"autoLoad"`
	AutoReconnect        bool `json:"autoReconnect" yaml:"autoReconnect"`
	ForceConnectionClose bool `json:"forceConnectionClose" yaml:"forceConnectionClose"`
	MonitoringEnabled    bool `json:"monitoringEnabled" yaml:"monitoringEnabled"`
	LoggingEnabled       bool `json:"loggingEnabled" yaml:"loggingEnabled"`

	BufferSize int `json:"bufferSize" yaml:"bufferSize"`

	AdminPort     int  `json:"adminPort" yaml:"adminPort"`
	AdminAutoPort bool `json:"adminAutoPort" yaml:"adminAutoPort"`

	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

const defaultDomainSuffix = ".inthespace.online"

// Default returns the configuration used when no file exists yet.
func Default() Config {
	return Config{
		Domain:            "lawfirm" + defaultDomainSuffix,
		DomainSuffix:      defaultDomainSuffix,
		Mode:              ModeRouting,
		RawTargetHost:     "127.0.0.1",
		RawTargetPort:     80,
		SignalHost:        "inthespace.online",
		SignalPort:        6060,
		DataPort:          7070,
		Routes:            []router.Rule{defaultRoute()},
		AutoSave:          true,
		AutoLoad:          true,
		AutoReconnect:     true,
		MonitoringEnabled: true,
		BufferSize:        8192,
		AdminPort:         8090,
		AdminAutoPort:     true,
	}
}

func defaultRoute() router.Rule {
	return router.Rule{
		PathPattern: "/*",
		TargetHost:  "localhost",
		TargetPort:  8080,
		Description: "Default Fallback",
		Priority:    router.DefaultPriority,
	}
}

// Finalize fills gaps left by a partial file and validates what remains.
func (c *Config) Finalize() error {
	def := Default()

	if strings.TrimSpace(c.DomainSuffix) == "" {
		c.DomainSuffix = def.DomainSuffix
	}
	if strings.TrimSpace(c.Domain) == "" {
		c.Domain = def.Domain
	}
	if strings.TrimSpace(c.SignalHost) == "" {
		c.SignalHost = def.SignalHost
	}
	if c.SignalPort <= 0 {
		c.SignalPort = def.SignalPort
	}
	if c.DataPort <= 0 {
		c.DataPort = def.DataPort
	}
	if strings.TrimSpace(c.RawTargetHost) == "" {
		c.RawTargetHost = def.RawTargetHost
	}
	if c.RawTargetPort <= 0 {
		c.RawTargetPort = def.RawTargetPort
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.AdminPort <= 0 {
		c.AdminPort = def.AdminPort
	}

	for _, port := range []int{c.SignalPort, c.DataPort, c.AdminPort} {
		if port > 65535 {
			return fmt.Errorf("port out of range: %d", port)
		}
	}

	for i := range c.Routes {
		c.Routes[i] = c.Routes[i].Normalized()
		if err := c.Routes[i].Validate(); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
	}
	return nil
}

// FullDomain appends the domain suffix when the configured domain is bare.
func (c Config) FullDomain() string {
	if strings.HasSuffix(c.Domain, c.DomainSuffix) {
		return c.Domain
	}
	return c.Domain + c.DomainSuffix
}

// Clone deep-copies the config so callers can hold it without locking.
func (c Config) Clone() Config {
	out := c
	out.Routes = append([]router.Rule(nil), c.Routes...)
	return out
}
