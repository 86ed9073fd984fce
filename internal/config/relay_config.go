package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	relayTargetsVar     = "RELAY_TARGETS"
	relayTargetsFileVar = "RELAY_TARGETS_FILE"
)

type RelayConfig interface {
	// GetRelayTarget returns the base URL of a named sibling application.
	GetRelayTarget(name string) (string, bool)
	GetRelayTargetNames() []string
}

// Relay holds the validated relay targets keyed by application name.
type Relay struct {
	targets map[string]string
}

var _ RelayConfig = Relay{}

// relayFile is the layout of RELAY_TARGETS_FILE:
//
//	targets:
//	  crm: https://crm.example.com/app
type relayFile struct {
	Targets map[string]string `yaml:"targets"`
}

// LoadRelay parses "name=url,name=url" pairs and, when path is set, a YAML file.
// Entries from the environment win over the file.
func LoadRelay(pairs, path string) (Relay, error) {
	targets := make(map[string]string)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Relay{}, fmt.Errorf("read %s: %w", path, err)
		}
		var f relayFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return Relay{}, fmt.Errorf("parse %s: %w", path, err)
		}
		for name, target := range f.Targets {
			targets[strings.TrimSpace(name)] = strings.TrimSpace(target)
		}
	}

	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, target, ok := strings.Cut(pair, "=")
		if !ok {
			return Relay{}, fmt.Errorf("malformed relay target %q, want name=url", pair)
		}
		targets[strings.TrimSpace(name)] = strings.TrimSpace(target)
	}

	for name, target := range targets {
		if name == "" {
			return Relay{}, fmt.Errorf("relay target %q has no name", target)
		}
		if err := ValidateAbsoluteURL(target); err != nil {
			return Relay{}, fmt.Errorf("relay target %s: %w", name, err)
		}
	}
	return Relay{targets: targets}, nil
}

// ValidateAbsoluteURL accepts only fully-qualified http(s) URLs.
func ValidateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func (r Relay) GetRelayTarget(name string) (string, bool) {
	target, ok := r.targets[name]
	return target, ok
}

func (r Relay) GetRelayTargetNames() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
