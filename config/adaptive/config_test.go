package adaptive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nino-chavez/perfgov/content"
	"github.com/nino-chavez/perfgov/monitoring"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, 45.0, config.Monitoring.FPSMediumThreshold)
	assert.Equal(t, 2*time.Second, config.Quality.DowngradeDwell)
	assert.Equal(t, 150*time.Millisecond, config.Scroll.DebounceDelay)
	assert.Equal(t, 3, config.Recovery.MaxRetries)
	assert.False(t, config.Server.Enabled)
}

func TestValidateReportsEverySection(t *testing.T) {
	config := DefaultConfig()
	config.Monitoring.FPSMediumThreshold = 10
	config.Recovery = nil
	config.Server.Enabled = true
	config.Server.Addr = ""

	err := config.Validate()
	require.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "monitoring")
	assert.Contains(t, err.Error(), "recovery: section missing")
	assert.Contains(t, err.Error(), "server")
}

func TestClone(t *testing.T) {
	original := DefaultConfig()
	clone := original.Clone()

	clone.Monitoring.AlertCooldown = time.Minute
	clone.Scroll.Thresholds[1] = 0.2
	clone.Content.Sections["timeline"] = clone.Content.Sections[content.DefaultSection]

	assert.Equal(t, 5*time.Second, original.Monitoring.AlertCooldown)
	assert.Equal(t, 0.1, original.Scroll.Thresholds[1])
	assert.NotContains(t, original.Content.Sections, "timeline")
	assert.Equal(t, original.Recovery, clone.Recovery)
}

func TestParseOverlaysDefaults(t *testing.T) {
	data := []byte(`
monitoring:
  alert_cooldown: 10s
  fps_medium_threshold: 50
quality:
  upgrade_recovery: 8s
scroll:
  defer_quality: medium
content:
  sections:
    timeline:
      summary_min: 0.3
      detailed_min: 0.8
      technical_min: 1.6
      detailed_floor: 0.5
      technical_floor: 1.2
server:
  enabled: true
`)
	config, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, config.Monitoring.AlertCooldown)
	assert.Equal(t, 50.0, config.Monitoring.FPSMediumThreshold)
	assert.Equal(t, 30.0, config.Monitoring.FPSHighThreshold)
	assert.Equal(t, 8*time.Second, config.Quality.UpgradeRecovery)
	assert.Equal(t, monitoring.QualityMedium, config.Scroll.DeferQuality)
	assert.Contains(t, config.Content.Sections, "timeline")
	assert.Contains(t, config.Content.Sections, content.DefaultSection)
	assert.True(t, config.Server.Enabled)
	assert.Equal(t, "127.0.0.1:9464", config.Server.Addr)
}

func TestParseRejects(t *testing.T) {
	_, err := Parse([]byte("monitoring: [not, a, map]"))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Parse([]byte("recovery:\n  history_size: 0\n"))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Parse([]byte("scroll:\n  defer_quality: ultra\n"))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestMarshalRoundTrip(t *testing.T) {
	config := DefaultConfig()
	config.Recovery.ReloadGrace = 3 * time.Second

	data, err := config.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "reload_grace: 3s")

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, config, parsed)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfgov.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recovery:\n  max_retries: 5\n"), 0o644))

	config, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, config.Recovery.MaxRetries)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
