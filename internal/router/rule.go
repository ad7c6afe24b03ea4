package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPriority is assigned when a rule is defined without one.
// Lower values are checked first.
const DefaultPriority = 100

// Rule maps a path pattern to a backend target.
//
// A pattern is either exact ("/admin") or a wildcard ending in "/*" ("/api/*").
// Rules are values: build one, normalize it, and never mutate it afterwards.
type Rule struct {
	PathPattern string `json:"pathPattern" yaml:"pathPattern"`
	TargetHost  string `json:"targetHost" yaml:"targetHost"`
	TargetPort  int    `json:"targetPort" yaml:"targetPort"`
	Description string `json:"description" yaml:"description"`
	StripPrefix bool   `json:"stripPrefix" yaml:"stripPrefix"`
	Priority    int    `json:"priority" yaml:"priority"`
	ForwardHost bool   `json:"forwardHost" yaml:"forwardHost"`
	UseSSL      bool   `json:"useSSL" yaml:"useSSL"`
}

// Normalized returns a copy with the pattern forced to begin with "/".
func (r Rule) Normalized() Rule {
	r.PathPattern = strings.TrimSpace(r.PathPattern)
	if r.PathPattern != "" && !strings.HasPrefix(r.PathPattern, "/") {
		r.PathPattern = "/" + r.PathPattern
	}
	r.TargetHost = strings.TrimSpace(r.TargetHost)
	return r
}

// Validate reports whether the rule can be routed to.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.PathPattern) == "" {
		return fmt.Errorf("path pattern is required")
	}
	if strings.TrimSpace(r.TargetHost) == "" {
		return fmt.Errorf("target host is required")
	}
	if r.TargetPort < 1 || r.TargetPort > 65535 {
		return fmt.Errorf("target port out of range: %d", r.TargetPort)
	}
	return nil
}

// Matches reports whether path is routed by this rule.
//
// Wildcard patterns match the bare prefix and anything below it, but never a
// sibling that merely shares the prefix string: "/api/*" matches "/api" and
// "/api/x", not "/apistore".
func (r Rule) Matches(path string) bool {
	if r.PathPattern == path {
		return true
	}
	if strings.HasSuffix(r.PathPattern, "/*") {
		prefix := r.PathPattern[:len(r.PathPattern)-2]
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return false
}

// RewritePath strips the matched prefix when StripPrefix is set.
// Exact patterns rewrite to "/". The result always begins with "/".
func (r Rule) RewritePath(path string) string {
	if !r.StripPrefix {
		return path
	}

	var out string
	if strings.HasSuffix(r.PathPattern, "/*") {
		prefix := r.PathPattern[:len(r.PathPattern)-2]
		if strings.HasPrefix(path, prefix) {
			out = path[len(prefix):]
		} else {
			out = path
		}
	} else {
		out = "/"
	}

	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}

// Specificity orders rules with equal priority: exact patterns beat wildcards,
// longer wildcards beat shorter ones.
func (r Rule) Specificity() int {
	if strings.HasSuffix(r.PathPattern, "/*") {
		return 1000 + len(r.PathPattern)
	}
	return 10000
}

func (r Rule) Target() string {
	return fmt.Sprintf("%s:%d", r.TargetHost, r.TargetPort)
}

func (r Rule) String() string {
	s := fmt.Sprintf("%s -> %s (priority=%d", r.PathPattern, r.Target(), r.Priority)
	if r.StripPrefix {
		s += ", strip prefix"
	}
	return s + ")"
}

// UnmarshalJSON applies DefaultPriority when the priority key is absent.
// An explicit priority, including 0, is kept as written.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	aux := struct {
		*plain
		Priority *int `json:"priority"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Priority == nil {
		r.Priority = DefaultPriority
	} else {
		r.Priority = *aux.Priority
	}
	return nil
}

// UnmarshalYAML mirrors the JSON priority default for YAML configs.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		PathPattern string `yaml:"pathPattern"`
		TargetHost  string `yaml:"targetHost"`
		TargetPort  int    `yaml:"targetPort"`
		Description string `yaml:"description"`
		StripPrefix bool   `yaml:"stripPrefix"`
		Priority    *int   `yaml:"priority"`
		ForwardHost bool   `yaml:"forwardHost"`
		UseSSL      bool   `yaml:"useSSL"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	r.PathPattern = aux.PathPattern
	r.TargetHost = aux.TargetHost
	r.TargetPort = aux.TargetPort
	r.Description = aux.Description
	r.StripPrefix = aux.StripPrefix
	r.ForwardHost = aux.ForwardHost
	r.UseSSL = aux.UseSSL
	if aux.Priority == nil {
		r.Priority = DefaultPriority
	} else {
		r.Priority = *aux.Priority
	}
	return nil
}
