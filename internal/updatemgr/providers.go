package updatemgr

import (
	"math/rand"
	"time"
)

// ConnectionType is the kind of network connection the device currently
// holds, as observed by the connection provider.
type ConnectionType string

const (
	ConnectionEthernet  ConnectionType = "ethernet"
	ConnectionWifi      ConnectionType = "wifi"
	ConnectionCellular  ConnectionType = "cellular"
	ConnectionBluetooth ConnectionType = "bluetooth"
	ConnectionUnknown   ConnectionType = "unknown"
)

// CheckWindow is an optional device-policy restriction confining periodic
// update checks to a recurring window: a cron expression for the window
// start plus a grace duration during which checks remain allowed.
type CheckWindow struct {
	// Standard five-field cron expression, e.g. "0 3 * * *".
	At string
	// How long the window stays open after each trigger. Zero selects a
	// default grace.
	GraceDuration time.Duration
	// IANA time zone name for the cron expression; empty means local time.
	TimeZone string
}

// TimeProvider exposes time variables.
type TimeProvider interface {
	// Wallclock is the current wallclock time (time.Time). Snapshotted per
	// evaluation, so a decision observes a single evaluation time.
	Wallclock() Variable
}

// RandomProvider exposes randomness.
type RandomProvider interface {
	// Seed is a uniformly distributed int64, drawn fresh per evaluation.
	// Decisions derive all their random draws from the snapshotted seed,
	// which keeps a single evaluation deterministic.
	Seed() Variable
}

// ConnectionProvider exposes network connection variables.
type ConnectionProvider interface {
	// ConnectionType of the default route (ConnectionType).
	ConnectionType() Variable
	// IsTethering reports whether the connection is a tethered/hotspot
	// link (bool).
	IsTethering() Variable
}

// DevicePolicyProvider exposes device-management policy variables.
type DevicePolicyProvider interface {
	// IsLoaded reports whether a device policy is present (bool). When
	// false, the remaining policy variables must not be read.
	IsLoaded() Variable
	// UpdatesDisabled reports whether policy forbids automatic updates
	// (bool).
	UpdatesDisabled() Variable
	// TargetVersionPrefix pins updates to a version prefix (string, empty =
	// unconstrained).
	TargetVersionPrefix() Variable
	// TargetChannel pins updates to a channel (string, empty =
	// unconstrained).
	TargetChannel() Variable
	// AllowedConnectionTypes restricts downloads to the listed connection
	// types ([]ConnectionType, nil = no restriction imposed).
	AllowedConnectionTypes() Variable
	// P2PEnabled reports whether peer-assisted downloads are permitted
	// (bool).
	P2PEnabled() Variable
	// CheckWindow confines periodic checks to a recurring window
	// (*CheckWindow, nil = unrestricted).
	CheckWindow() Variable
}

// UpdaterProvider exposes the update client's own counters and settings.
type UpdaterProvider interface {
	// LastCheckedTime is the wallclock time of the last completed update
	// check (time.Time, zero = never).
	LastCheckedTime() Variable
	// CheckInterval is the configured periodic check cadence
	// (time.Duration, zero selects the built-in default).
	CheckInterval() Variable
	// InteractiveCheckRequested reports a pending user-initiated check
	// request (bool).
	InteractiveCheckRequested() Variable
	// CellularDownloadsAllowed is the user's consent to download over
	// cellular when no device policy decides it (bool).
	CellularDownloadsAllowed() Variable
}

// State groups the providers a decision reads, one per domain.
type State struct {
	Time         TimeProvider
	Random       RandomProvider
	Connection   ConnectionProvider
	DevicePolicy DevicePolicyProvider
	Updater      UpdaterProvider
}

// MemoryConnectionProvider is a settable in-memory ConnectionProvider.
type MemoryConnectionProvider struct {
	Type      *Observable[ConnectionType]
	Tethering *Observable[bool]
}

func NewMemoryConnectionProvider() *MemoryConnectionProvider {
	return &MemoryConnectionProvider{
		Type:      NewObservable("connection-type", ConnectionUnknown),
		Tethering: NewObservable("connection-tethering", false),
	}
}

func (p *MemoryConnectionProvider) ConnectionType() Variable { return p.Type }
func (p *MemoryConnectionProvider) IsTethering() Variable    { return p.Tethering }

// MemoryDevicePolicyProvider is a settable in-memory DevicePolicyProvider.
type MemoryDevicePolicyProvider struct {
	Loaded           *Observable[bool]
	Disabled         *Observable[bool]
	VersionPrefix    *Observable[string]
	Channel          *Observable[string]
	AllowedConnTypes *Observable[[]ConnectionType]
	P2P              *Observable[bool]
	Window           *Observable[*CheckWindow]
}

func NewMemoryDevicePolicyProvider() *MemoryDevicePolicyProvider {
	return &MemoryDevicePolicyProvider{
		Loaded:           NewObservable("device-policy-is-loaded", false),
		Disabled:         NewObservable("device-policy-updates-disabled", false),
		VersionPrefix:    NewObservable("device-policy-target-version-prefix", ""),
		Channel:          NewObservable("device-policy-target-channel", ""),
		AllowedConnTypes: NewObservable[[]ConnectionType]("device-policy-allowed-connection-types", nil),
		P2P:              NewObservable("device-policy-p2p-enabled", false),
		Window:           NewObservable[*CheckWindow]("device-policy-check-window", nil),
	}
}

func (p *MemoryDevicePolicyProvider) IsLoaded() Variable               { return p.Loaded }
func (p *MemoryDevicePolicyProvider) UpdatesDisabled() Variable        { return p.Disabled }
func (p *MemoryDevicePolicyProvider) TargetVersionPrefix() Variable    { return p.VersionPrefix }
func (p *MemoryDevicePolicyProvider) TargetChannel() Variable          { return p.Channel }
func (p *MemoryDevicePolicyProvider) AllowedConnectionTypes() Variable { return p.AllowedConnTypes }
func (p *MemoryDevicePolicyProvider) P2PEnabled() Variable             { return p.P2P }
func (p *MemoryDevicePolicyProvider) CheckWindow() Variable            { return p.Window }

// MemoryUpdaterProvider is a settable in-memory UpdaterProvider.
type MemoryUpdaterProvider struct {
	LastChecked       *Observable[time.Time]
	Interval          *Observable[time.Duration]
	InteractiveWanted *Observable[bool]
	CellularAllowed   *Observable[bool]
}

func NewMemoryUpdaterProvider() *MemoryUpdaterProvider {
	return &MemoryUpdaterProvider{
		LastChecked:       NewObservable("updater-last-checked-time", time.Time{}),
		Interval:          NewObservable("updater-check-interval", time.Duration(0)),
		InteractiveWanted: NewObservable("updater-interactive-check-requested", false),
		CellularAllowed:   NewObservable("updater-cellular-downloads-allowed", false),
	}
}

func (p *MemoryUpdaterProvider) LastCheckedTime() Variable           { return p.LastChecked }
func (p *MemoryUpdaterProvider) CheckInterval() Variable             { return p.Interval }
func (p *MemoryUpdaterProvider) InteractiveCheckRequested() Variable { return p.InteractiveWanted }
func (p *MemoryUpdaterProvider) CellularDownloadsAllowed() Variable  { return p.CellularAllowed }

// MemoryTimeProvider serves wallclock time from an injected clock, the same
// nowFn idiom the rest of the code uses for testability.
type MemoryTimeProvider struct {
	nowFn func() time.Time
}

func NewMemoryTimeProvider(nowFn func() time.Time) *MemoryTimeProvider {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryTimeProvider{nowFn: nowFn}
}

func (p *MemoryTimeProvider) Wallclock() Variable {
	return NewFuncVariable("time-wallclock", func() (time.Time, error) {
		return p.nowFn(), nil
	})
}

// MemoryRandomProvider serves a fixed seed; tests use it to pin random
// draws.
type MemoryRandomProvider struct {
	SeedValue *Observable[int64]
}

func NewMemoryRandomProvider(seed int64) *MemoryRandomProvider {
	return &MemoryRandomProvider{
		SeedValue: NewObservable("random-seed", seed),
	}
}

func (p *MemoryRandomProvider) Seed() Variable { return p.SeedValue }

// SystemRandomProvider draws a fresh seed per evaluation.
type SystemRandomProvider struct{}

func NewSystemRandomProvider() *SystemRandomProvider {
	return &SystemRandomProvider{}
}

func (p *SystemRandomProvider) Seed() Variable {
	return NewFuncVariable("random-seed", func() (int64, error) {
		return rand.Int63(), nil
	})
}

// NewMemoryState wires a full in-memory provider set around the given clock.
func NewMemoryState(nowFn func() time.Time, seed int64) (*State, *MemoryConnectionProvider, *MemoryDevicePolicyProvider, *MemoryUpdaterProvider) {
	connection := NewMemoryConnectionProvider()
	devicePolicy := NewMemoryDevicePolicyProvider()
	updater := NewMemoryUpdaterProvider()
	state := &State{
		Time:         NewMemoryTimeProvider(nowFn),
		Random:       NewMemoryRandomProvider(seed),
		Connection:   connection,
		DevicePolicy: devicePolicy,
		Updater:      updater,
	}
	return state, connection, devicePolicy, updater
}
