package updatemgr

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultDownloadErrorsMax = 10

// Config describes a provider setup and a payload snapshot for the
// updatectl binary. Durations are Go duration strings.
type Config struct {
	LogLevel     string              `yaml:"logLevel,omitempty"`
	Seed         *int64              `yaml:"seed,omitempty"`
	Updater      UpdaterConfig       `yaml:"updater,omitempty"`
	Connection   ConnectionConfig    `yaml:"connection,omitempty"`
	DevicePolicy *DevicePolicyConfig `yaml:"devicePolicy,omitempty"`
	Payload      PayloadConfig       `yaml:"payload,omitempty"`
}

type UpdaterConfig struct {
	CheckInterval            string `yaml:"checkInterval,omitempty"`
	SinceLastCheck           string `yaml:"sinceLastCheck,omitempty"`
	InteractiveCheck         bool   `yaml:"interactiveCheck,omitempty"`
	CellularDownloadsAllowed bool   `yaml:"cellularDownloadsAllowed,omitempty"`
}

type ConnectionConfig struct {
	Type      string `yaml:"type,omitempty"`
	Tethering bool   `yaml:"tethering,omitempty"`
}

type DevicePolicyConfig struct {
	UpdatesDisabled        bool               `yaml:"updatesDisabled,omitempty"`
	TargetVersionPrefix    string             `yaml:"targetVersionPrefix,omitempty"`
	TargetChannel          string             `yaml:"targetChannel,omitempty"`
	AllowedConnectionTypes []string           `yaml:"allowedConnectionTypes,omitempty"`
	P2PEnabled             bool               `yaml:"p2pEnabled,omitempty"`
	CheckWindow            *CheckWindowConfig `yaml:"checkWindow,omitempty"`
}

type CheckWindowConfig struct {
	At            string `yaml:"at"`
	GraceDuration string `yaml:"graceDuration,omitempty"`
	TimeZone      string `yaml:"timeZone,omitempty"`
}

type PayloadConfig struct {
	URLs                     []string `yaml:"urls,omitempty"`
	IsDelta                  bool     `yaml:"isDelta,omitempty"`
	DownloadErrorsMax        int      `yaml:"downloadErrorsMax,omitempty"`
	FirstSeenAgo             string   `yaml:"firstSeenAgo,omitempty"`
	NumChecks                int      `yaml:"numChecks,omitempty"`
	ScatterWaitPeriodMax     string   `yaml:"scatterWaitPeriodMax,omitempty"`
	ScatterCheckThresholdMin int      `yaml:"scatterCheckThresholdMin,omitempty"`
	ScatterCheckThresholdMax int      `yaml:"scatterCheckThresholdMax,omitempty"`
}

func LoadConfig(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(contents, config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return config, nil
}

// State builds the provider set the config describes.
func (c *Config) State(nowFn func() time.Time) (*State, error) {
	if nowFn == nil {
		nowFn = time.Now
	}

	connection := NewMemoryConnectionProvider()
	if c.Connection.Type != "" {
		connection.Type.Set(ConnectionType(c.Connection.Type))
	}
	connection.Tethering.Set(c.Connection.Tethering)

	devicePolicy := NewMemoryDevicePolicyProvider()
	if dp := c.DevicePolicy; dp != nil {
		devicePolicy.Loaded.Set(true)
		devicePolicy.Disabled.Set(dp.UpdatesDisabled)
		devicePolicy.VersionPrefix.Set(dp.TargetVersionPrefix)
		devicePolicy.Channel.Set(dp.TargetChannel)
		devicePolicy.P2P.Set(dp.P2PEnabled)
		if len(dp.AllowedConnectionTypes) > 0 {
			types := make([]ConnectionType, 0, len(dp.AllowedConnectionTypes))
			for _, t := range dp.AllowedConnectionTypes {
				types = append(types, ConnectionType(t))
			}
			devicePolicy.AllowedConnTypes.Set(types)
		}
		if dp.CheckWindow != nil {
			window := &CheckWindow{
				At:       dp.CheckWindow.At,
				TimeZone: dp.CheckWindow.TimeZone,
			}
			if dp.CheckWindow.GraceDuration != "" {
				grace, err := time.ParseDuration(dp.CheckWindow.GraceDuration)
				if err != nil {
					return nil, fmt.Errorf("parsing check window grace duration: %w", err)
				}
				window.GraceDuration = grace
			}
			devicePolicy.Window.Set(window)
		}
	}

	updater := NewMemoryUpdaterProvider()
	if c.Updater.CheckInterval != "" {
		interval, err := time.ParseDuration(c.Updater.CheckInterval)
		if err != nil {
			return nil, fmt.Errorf("parsing check interval: %w", err)
		}
		updater.Interval.Set(interval)
	}
	if c.Updater.SinceLastCheck != "" {
		since, err := time.ParseDuration(c.Updater.SinceLastCheck)
		if err != nil {
			return nil, fmt.Errorf("parsing time since last check: %w", err)
		}
		updater.LastChecked.Set(nowFn().Add(-since))
	}
	updater.InteractiveWanted.Set(c.Updater.InteractiveCheck)
	updater.CellularAllowed.Set(c.Updater.CellularDownloadsAllowed)

	var random RandomProvider = NewSystemRandomProvider()
	if c.Seed != nil {
		random = NewMemoryRandomProvider(*c.Seed)
	}

	return &State{
		Time:         NewMemoryTimeProvider(nowFn),
		Random:       random,
		Connection:   connection,
		DevicePolicy: devicePolicy,
		Updater:      updater,
	}, nil
}

// UpdateState builds the payload history snapshot the config describes.
func (c *Config) UpdateState(now time.Time) (UpdateState, error) {
	us := UpdateState{
		IsInteractive:            c.Updater.InteractiveCheck,
		IsDeltaPayload:           c.Payload.IsDelta,
		FirstSeen:                now,
		NumChecks:                c.Payload.NumChecks,
		DownloadURLs:             c.Payload.URLs,
		DownloadErrorsMax:        c.Payload.DownloadErrorsMax,
		LastDownloadURLIdx:       -1,
		ScatterCheckThresholdMin: c.Payload.ScatterCheckThresholdMin,
		ScatterCheckThresholdMax: c.Payload.ScatterCheckThresholdMax,
	}
	if us.DownloadErrorsMax <= 0 {
		us.DownloadErrorsMax = defaultDownloadErrorsMax
	}
	if c.Payload.FirstSeenAgo != "" {
		ago, err := time.ParseDuration(c.Payload.FirstSeenAgo)
		if err != nil {
			return UpdateState{}, fmt.Errorf("parsing first seen age: %w", err)
		}
		us.FirstSeen = now.Add(-ago)
	}
	if c.Payload.ScatterWaitPeriodMax != "" {
		waitMax, err := time.ParseDuration(c.Payload.ScatterWaitPeriodMax)
		if err != nil {
			return UpdateState{}, fmt.Errorf("parsing scatter wait period max: %w", err)
		}
		us.ScatterWaitPeriodMax = waitMax
	}
	return us, nil
}
