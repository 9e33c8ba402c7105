package fetchpolicy

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Policy decides which source is consulted first for a request.
type Policy string

const (
	// CacheFirst serves a stored response without touching the network.
	// The network is only used on a cache miss.
	CacheFirst Policy = "cache-first"
	// NetworkFirst always tries the network and falls back to the cache.
	NetworkFirst Policy = "network-first"
)

type Rules []Rule

// Rule matches requests and assigns them a policy.
// All non-empty matchers of a rule must match. Contains matches if any of
// its substrings occurs in the path.
type Rule struct {
	Prefix   string   `yaml:"prefix" mapstructure:"prefix"`
	Path     string   `yaml:"path" mapstructure:"path"`
	Contains []string `yaml:"contains" mapstructure:"contains"`
	Policy   Policy   `yaml:"policy" mapstructure:"policy" validate:"omitempty,oneof=cache-first network-first"`
}

// DefaultRules classifies branding assets (logos, favicons, icons) as
// network-first. Everything else falls through to cache-first.
func DefaultRules() Rules {
	return Rules{
		NetworkFirstFor("logo", "favicon", "icon"),
	}
}

// NetworkFirstFor returns a rule matching paths that contain any of the substrings.
func NetworkFirstFor(substrings ...string) Rule {
	return Rule{Contains: substrings, Policy: NetworkFirst}
}

// Classify returns the policy of the first matching rule, or CacheFirst.
func (r Rules) Classify(req *http.Request) Policy {
	if rule := r.find(req); rule != nil && rule.Policy != "" {
		return rule.Policy
	}
	return CacheFirst
}

func (r Rules) find(req *http.Request) *Rule {
	path := req.URL.Path
	log.Trace().Msgf("Finding fetch policy rule for %s", path)
	for i := range r {
		rule := r[i]
		if rule.Path != "" && rule.Path != path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		if len(rule.Contains) > 0 && !containsAny(path, rule.Contains) {
			continue
		}
		return &rule
	}
	return nil
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
