// Package featureflags evaluates the FEATURE_FLAGS rollout list.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
)

const (
	// AdminSelfPublish lets an admin's own uploads skip the review queue.
	AdminSelfPublish = "admin_self_publish"
	// AdminLiveFeed enables the admin WebSocket live feed.
	AdminLiveFeed = "admin_live_feed"
)

// Defaults apply when FEATURE_FLAGS does not mention a flag.
var Defaults = map[string]string{
	AdminSelfPublish: "on",
	AdminLiveFeed:    "on",
}

// rule is a parsed flag value: a percentage of principals in [0,100].
// "on" is 100 and "off" is 0.
type rule struct {
	raw     string
	percent int
}

func parseRule(value string) (rule, error) {
	value = normalize(value)
	switch value {
	case "on", "true", "1":
		return rule{raw: value, percent: 100}, nil
	case "off", "false", "0":
		return rule{raw: value, percent: 0}, nil
	}
	pct, ok := strings.CutSuffix(value, "%")
	if !ok {
		return rule{}, fmt.Errorf("unrecognised flag value %q", value)
	}
	n, err := strconv.Atoi(pct)
	if err != nil {
		return rule{}, fmt.Errorf("bad rollout percentage %q", value)
	}
	return rule{raw: value, percent: max(0, min(n, 100))}, nil
}

// Manager holds the parsed flags. It is immutable after NewManager.
type Manager struct {
	rules map[string]rule
}

// NewManager parses a list like "admin_self_publish=off,admin_live_feed=25%"
// over Defaults. Malformed entries are logged and ignored.
func NewManager(raw string) *Manager {
	m := &Manager{rules: make(map[string]rule, len(Defaults))}
	for name, value := range Defaults {
		r, _ := parseRule(value)
		m.rules[name] = r
	}

	for _, entry := range strings.Split(raw, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		name, value, found := strings.Cut(entry, "=")
		name = normalize(name)
		if !found || name == "" {
			slog.Warn("ignoring feature flag entry", slog.String("entry", entry))
			continue
		}
		r, err := parseRule(value)
		if err != nil {
			slog.Warn("ignoring feature flag", slog.String("flag", name), slog.String("error", err.Error()))
			continue
		}
		m.rules[name] = r
	}
	return m
}

// Enabled reports whether name is on for the principal. Partial rollouts
// bucket principals deterministically and never include the zero ID.
func (m *Manager) Enabled(name string, principalID uint) bool {
	if m == nil {
		return false
	}
	name = normalize(name)
	r, ok := m.rules[name]
	switch {
	case !ok || r.percent == 0:
		return false
	case r.percent == 100:
		return true
	case principalID == 0:
		return false
	}
	return bucket(name, principalID) < r.percent
}

// Raw returns the configured value of every flag.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.rules))
	for name, r := range m.rules {
		out[name] = r.raw
	}
	return out
}

// Snapshot evaluates every flag for one principal.
func (m *Manager) Snapshot(principalID uint) map[string]bool {
	out := make(map[string]bool, len(m.rules))
	for name := range m.rules {
		out[name] = m.Enabled(name, principalID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, principalID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name + ":" + strconv.FormatUint(uint64(principalID), 10)))
	return int(h.Sum32() % 100)
}
