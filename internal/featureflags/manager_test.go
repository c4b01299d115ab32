package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule(t *testing.T) {
	tests := []struct {
		in      string
		percent int
		wantErr bool
	}{
		{"on", 100, false},
		{" TRUE ", 100, false},
		{"0", 0, false},
		{"off", 0, false},
		{"25%", 25, false},
		{"150%", 100, false},
		{"-5%", 0, false},
		{"half", 0, true},
		{"x%", 0, true},
	}
	for _, tt := range tests {
		r, err := parseRule(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.percent, r.percent, tt.in)
	}
}

func TestEnabled(t *testing.T) {
	m := NewManager("a=on,b=off,always=100%,never=0%,canary=25%")

	assert.True(t, m.Enabled("a", 1))
	assert.True(t, m.Enabled(" A ", 1))
	assert.False(t, m.Enabled("b", 1))
	assert.True(t, m.Enabled("always", 0))
	assert.False(t, m.Enabled("never", 1))
	assert.False(t, m.Enabled("unknown", 1))
	assert.False(t, m.Enabled("canary", 0), "partial rollout excludes the zero ID")

	first := m.Enabled("canary", 42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", 42))
	}

	var nilManager *Manager
	assert.False(t, nilManager.Enabled(AdminLiveFeed, 1))
}

func TestRolloutIsRoughlyProportional(t *testing.T) {
	m := NewManager("canary=25%")
	on := 0
	for id := uint(1); id <= 2000; id++ {
		if m.Enabled("canary", id) {
			on++
		}
	}
	assert.InDelta(t, 500, on, 120)
}

func TestNewManager_SkipsMalformedEntries(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off,=on,w=maybe ")

	raw := m.Raw()
	assert.Len(t, raw, 3+len(Defaults))
	assert.Equal(t, "on", raw["x"])
	assert.Equal(t, "20%", raw["y"])
	assert.Equal(t, "off", raw["z"])
	assert.NotContains(t, raw, "w")

	assert.Len(t, m.Snapshot(123), 3+len(Defaults))
}

func TestDefaults(t *testing.T) {
	m := NewManager("")
	assert.True(t, m.Enabled(AdminSelfPublish, 1))
	assert.True(t, m.Enabled(AdminLiveFeed, 1))

	m = NewManager("admin_self_publish=off")
	assert.False(t, m.Enabled(AdminSelfPublish, 1))
	assert.True(t, m.Enabled(AdminLiveFeed, 1), "unmentioned flags keep their default")
}
