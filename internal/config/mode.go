package config

import (
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode selects how the agent handles each data channel.
type Mode int

const (
	// ModeRouting parses the request head and dispatches by path.
	// Zero value: a config that never mentions a mode routes.
	ModeRouting Mode = iota
	// ModeRaw splices every data channel to the single raw target.
	ModeRaw
)

var modeMapping = map[string]Mode{
	"raw":     ModeRaw,
	"routing": ModeRouting,
}

func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeRouting:
		return "routing"
	default:
		return "unknown"
	}
}

// ParseMode accepts the canonical names plus the legacy persisted forms
// RAW_MODE / ROUTING_MODE.
func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.TrimSuffix(key, "_mode")
	if m, ok := modeMapping[key]; ok {
		return m, nil
	}
	return ModeRouting, errors.New("invalid mode: " + s)
}

// MarshalText serializes Mode.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText deserializes Mode.
func (m *Mode) UnmarshalText(data []byte) error {
	parsed, err := ParseMode(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalYAML serializes Mode for YAML configs.
func (m Mode) MarshalYAML() (any, error) {
	return m.String(), nil
}

// UnmarshalYAML deserializes Mode from YAML configs.
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return m.UnmarshalText([]byte(s))
}
