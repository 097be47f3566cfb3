package fetch

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adlens-io/adlens/internal/config"
)

// DefaultPoliciesPath is the default location of the endpoint policy file.
const DefaultPoliciesPath = ".adlens.yaml"

// PoliciesPathEnvVar is the environment variable naming a custom policy file.
const PoliciesPathEnvVar = "ADLENS_CONFIG_PATH"

type (
	// Policies holds operator overrides for endpoint timing, loaded from YAML:
	//
	//	retry_delay: 2s
	//	endpoints:
	//	  breakdowns:
	//	    ttl: 30m
	//	    ceiling: 18s
	//	    outer_retry: true
	Policies struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		RetryDelay time.Duration     `yaml:"retry_delay"`
		Endpoints  map[string]Policy `yaml:"endpoints"`
	}

	// Policy overrides the timing of one endpoint. Zero values keep the built-in default.
	Policy struct {
		TTL      time.Duration `yaml:"ttl"`
		Deadline time.Duration `yaml:"deadline"`
		Ceiling  time.Duration `yaml:"ceiling"`
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		OuterRetry *bool `yaml:"outer_retry"`
	}
)

// LoadPolicies loads endpoint policies from a YAML file.
//
// Behavior:
//   - Returns empty policies (not error) if the file doesn't exist
//   - Returns empty policies and logs a warning if the YAML is invalid
//   - Returns populated policies on success
func LoadPolicies(path string) (*Policies, error) {
	empty := &Policies{Endpoints: make(map[string]Policy)}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Policy file not found, using built-in endpoint defaults",
				slog.String("path", path))

			return empty, nil
		}

		slog.Warn("Failed to read policy file, using built-in endpoint defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return empty, nil
	}

	if len(data) == 0 {
		return empty, nil
	}

	policies := &Policies{}
	if err := yaml.Unmarshal(data, policies); err != nil {
		slog.Warn("Failed to parse policy file, using built-in endpoint defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return empty, nil
	}

	if policies.Endpoints == nil {
		policies.Endpoints = make(map[string]Policy)
	}

	return policies, nil
}

// LoadPoliciesFromEnv loads policies from ADLENS_CONFIG_PATH, falling back to ".adlens.yaml".
func LoadPoliciesFromEnv() (*Policies, error) {
	return LoadPolicies(config.GetEnvStr(PoliciesPathEnvVar, DefaultPoliciesPath))
}

// Apply returns ep with any configured overrides applied. Safe on a nil receiver.
func (p *Policies) Apply(ep Endpoint) Endpoint {
	if p == nil {
		return ep
	}

	policy, ok := p.Endpoints[ep.Name]
	if !ok {
		return ep
	}

	if policy.TTL > 0 {
		ep.TTL = policy.TTL
	}

	if policy.Deadline > 0 {
		ep.Deadline = policy.Deadline
	}

	if policy.Ceiling > 0 {
		ep.Ceiling = policy.Ceiling
	}

	if policy.OuterRetry != nil {
		ep.OuterRetry = *policy.OuterRetry
	}

	return ep
}

// Options returns orchestrator options derived from the policies. Safe on a nil receiver.
func (p *Policies) Options() []Option {
	if p == nil || p.RetryDelay <= 0 {
		return nil
	}

	return []Option{WithRetryDelay(p.RetryDelay)}
}
