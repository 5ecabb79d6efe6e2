package main

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Display is the sink the station pushes readings and status text to. It
// must tolerate sub-second update rates without blocking the caller.
type Display interface {
	UpdateConnector(connector int, snap TelemetrySnapshot)
	Notify(message string)
}

// TelemetryTable is the shared snapshot table behind the display surfaces.
// One mutex, held only for field copies, never across a protocol call.
type TelemetryTable struct {
	mu    sync.Mutex
	snaps []TelemetrySnapshot
}

func NewTelemetryTable(connectors int) *TelemetryTable {
	return &TelemetryTable{snaps: make([]TelemetrySnapshot, connectors)}
}

func (t *TelemetryTable) Set(connector int, snap TelemetrySnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if connector < 0 || connector >= len(t.snaps) {
		return
	}
	t.snaps[connector] = snap
}

func (t *TelemetryTable) Get(connector int) (TelemetrySnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if connector < 0 || connector >= len(t.snaps) {
		return TelemetrySnapshot{}, false
	}
	return t.snaps[connector], true
}

// All returns a copy of every connector's latest snapshot.
func (t *TelemetryTable) All() []TelemetrySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TelemetrySnapshot, len(t.snaps))
	copy(out, t.snaps)
	return out
}

// logDisplay renders telemetry as structured log lines, the default sink
// when no other display is attached.
type logDisplay struct {
	log *log.Entry
}

func newLogDisplay(entry *log.Entry) *logDisplay {
	return &logDisplay{log: entry}
}

func (d *logDisplay) UpdateConnector(connector int, snap TelemetrySnapshot) {
	d.log.WithFields(log.Fields{
		"connector":   connector,
		"meter_wh":    snap.MeterWh,
		"soc_percent": snap.SoCPercent,
		"voltage_v":   snap.VoltageV,
		"current_a":   snap.CurrentA,
		"power_w":     snap.PowerW,
		"charging":    snap.IsCharging,
	}).Debug("telemetry")
}

func (d *logDisplay) Notify(message string) {
	d.log.Info(message)
}
