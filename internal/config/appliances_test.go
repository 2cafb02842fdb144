package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAppliancesFile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "appliances.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadAppliancesProfileMerge(t *testing.T) {
	path := writeAppliancesFile(t, `
appliances:
  - id: wm-1
    name: Washing Machine
    kind: washing_machine
    power_topic: zigbee2mqtt/washer/power
    energy_topic: zigbee2mqtt/washer/energy
    stop_delay_s: 600
`)
	apps, err := LoadAppliances(path)
	require.NoError(t, err)
	require.Len(t, apps, 1)

	det := apps[0].Detection()
	// Profile defaults for a washing machine...
	assert.InDelta(t, 50, det.StartThreshold, 1e-9)
	assert.InDelta(t, 5, det.StopThreshold, 1e-9)
	assert.Equal(t, 120*time.Second, det.StartDelay)
	// ...with the explicit override applied field by field.
	assert.Equal(t, 600*time.Second, det.StopDelay)
	assert.Equal(t, 300*time.Second, det.UnpluggedTimeout)
}

func TestLoadAppliancesGeneratesID(t *testing.T) {
	path := writeAppliancesFile(t, `
appliances:
  - name: Oven
    kind: oven
    power_topic: oven/power
    energy_topic: oven/energy
`)
	apps, err := LoadAppliances(path)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.NotEmpty(t, apps[0].ID)
}

func TestLoadAppliancesRejectsInvertedThresholds(t *testing.T) {
	path := writeAppliancesFile(t, `
appliances:
  - name: Weird
    kind: other
    power_topic: weird/power
    energy_topic: weird/energy
    start_threshold_w: 10
    stop_threshold_w: 20
`)
	_, err := LoadAppliances(path)
	assert.Error(t, err)
}

func TestLoadAppliancesRejectsUnknownKind(t *testing.T) {
	path := writeAppliancesFile(t, `
appliances:
  - name: Toaster
    kind: toaster
    power_topic: toaster/power
    energy_topic: toaster/energy
`)
	_, err := LoadAppliances(path)
	assert.Error(t, err)
}
