package updatemgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "updatectl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	require := require.New(t)

	path := writeConfig(t, `
logLevel: debug
seed: 42
updater:
  checkInterval: 1h
  sinceLastCheck: 30m
  cellularDownloadsAllowed: true
connection:
  type: wifi
devicePolicy:
  targetChannel: stable
  p2pEnabled: true
  allowedConnectionTypes: [ethernet, wifi]
  checkWindow:
    at: "0 3 * * *"
    graceDuration: 2h
    timeZone: UTC
payload:
  urls:
    - https://a.example/payload
    - https://b.example/payload
  downloadErrorsMax: 5
  firstSeenAgo: 45m
  numChecks: 3
  scatterWaitPeriodMax: 48h
  scatterCheckThresholdMin: 2
  scatterCheckThresholdMax: 8
`)

	config, err := LoadConfig(path)
	require.NoError(err)
	require.Equal("debug", config.LogLevel)
	require.NotNil(config.Seed)
	require.Equal(int64(42), *config.Seed)

	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	state, err := config.State(func() time.Time { return now })
	require.NoError(err)

	ec := NewEvaluationContext(func() time.Time { return now })
	defer ec.Close()

	connType, err := GetValue[ConnectionType](ec, state.Connection.ConnectionType())
	require.NoError(err)
	require.Equal(ConnectionWifi, connType)

	loaded, err := GetValue[bool](ec, state.DevicePolicy.IsLoaded())
	require.NoError(err)
	require.True(loaded)

	channel, err := GetValue[string](ec, state.DevicePolicy.TargetChannel())
	require.NoError(err)
	require.Equal("stable", channel)

	window, err := GetValue[*CheckWindow](ec, state.DevicePolicy.CheckWindow())
	require.NoError(err)
	require.NotNil(window)
	require.Equal("0 3 * * *", window.At)
	require.Equal(2*time.Hour, window.GraceDuration)

	lastChecked, err := GetValue[time.Time](ec, state.Updater.LastCheckedTime())
	require.NoError(err)
	require.True(lastChecked.Equal(now.Add(-30 * time.Minute)))

	us, err := config.UpdateState(now)
	require.NoError(err)
	require.Len(us.DownloadURLs, 2)
	require.Equal(5, us.DownloadErrorsMax)
	require.Equal(-1, us.LastDownloadURLIdx)
	require.Equal(3, us.NumChecks)
	require.True(us.FirstSeen.Equal(now.Add(-45 * time.Minute)))
	require.Equal(48*time.Hour, us.ScatterWaitPeriodMax)
}

func TestLoadConfigDefaults(t *testing.T) {
	require := require.New(t)

	path := writeConfig(t, `
connection:
  type: ethernet
payload:
  urls: [https://a.example/payload]
`)

	config, err := LoadConfig(path)
	require.NoError(err)
	require.Nil(config.Seed)
	require.Nil(config.DevicePolicy)

	us, err := config.UpdateState(time.Now())
	require.NoError(err)
	require.Equal(defaultDownloadErrorsMax, us.DownloadErrorsMax)
}

func TestLoadConfigErrors(t *testing.T) {
	require := require.New(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(err)

	path := writeConfig(t, "payload: [not, a, mapping]")
	_, err = LoadConfig(path)
	require.Error(err)

	path = writeConfig(t, `
updater:
  checkInterval: not-a-duration
`)
	config, err := LoadConfig(path)
	require.NoError(err)
	_, err = config.State(nil)
	require.Error(err)

	path = writeConfig(t, `
payload:
  scatterWaitPeriodMax: never
`)
	config, err = LoadConfig(path)
	require.NoError(err)
	_, err = config.UpdateState(time.Now())
	require.Error(err)
}
