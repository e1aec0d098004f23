package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LimitsProfile carries per-key daily limit overrides loaded from YAML.
//
//	default: 100
//	keys:
//	  agent-alpha: 500
//	  agent-beta: 50
type LimitsProfile struct {
	Default int64            `yaml:"default"`
	Keys    map[string]int64 `yaml:"keys"`
}

// LoadLimitsProfile reads a YAML limits file. A missing path returns a
// profile holding only the given default.
func LoadLimitsProfile(path string, def int64) (*LimitsProfile, error) {
	profile := &LimitsProfile{Default: def, Keys: map[string]int64{}}
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading limits file: %w", err)
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("config: parsing limits file: %w", err)
	}
	if profile.Default <= 0 {
		profile.Default = def
	}
	if profile.Keys == nil {
		profile.Keys = map[string]int64{}
	}
	return profile, nil
}

// LimitFor returns the daily limit for a key.
func (p *LimitsProfile) LimitFor(keyID string) int64 {
	if limit, ok := p.Keys[keyID]; ok && limit > 0 {
		return limit
	}
	return p.Default
}
