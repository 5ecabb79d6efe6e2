package main

import (
	"math/rand"
	"sync"
)

// TelemetrySnapshot is a transient per-connector reading, recomputed on
// every refresh and never persisted.
type TelemetrySnapshot struct {
	MeterWh    uint64
	SoCPercent int
	VoltageV   int
	CurrentA   int
	PowerW     int
	IsCharging bool
}

// Meter computes simulated readings for a connector from its session
// snapshot and the current monotonic time. The RNG is injectable so tests
// can pin the jitter draws with a fixed seed.
type Meter struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMeter(cfg Config, rng *rand.Rand) *Meter {
	return &Meter{cfg: cfg, rng: rng}
}

func (m *Meter) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

// symJitter draws a discrete uniform value in [-bound, bound].
func (m *Meter) symJitter(bound int) int {
	if bound <= 0 {
		return 0
	}
	return m.intn(2*bound+1) - bound
}

// IdleBaselineWh is the fixed meter reading shown for an idle connector.
func (m *Meter) IdleBaselineWh(connector int) uint64 {
	return uint64(m.cfg.IdleMeterBaseWh + connector*m.cfg.IdleMeterOffsetWh)
}

// energyWh is the ideal delivered energy since session start, before jitter.
func (m *Meter) energyWh(sess ConnectorSession, nowMs int64) float64 {
	if nowMs <= sess.StartTimeMs {
		return 0
	}
	elapsedHours := float64(nowMs-sess.StartTimeMs) / 3_600_000.0
	return float64(m.cfg.ChargingPowerW) * elapsedHours
}

// ValueWh returns the cumulative meter reading. While charging the ideal
// energy gets a jitter of -1%, 0 or +1% (equally likely) and the result is
// clamped so it never reads below the session's start value.
func (m *Meter) ValueWh(sess ConnectorSession, connector int, nowMs int64) uint64 {
	if !sess.IsCharging {
		return m.IdleBaselineWh(connector)
	}
	energy := m.energyWh(sess, nowMs)
	jitterPct := m.intn(3) - 1
	jittered := energy + energy*float64(jitterPct)/100.0
	if jittered < 0 {
		jittered = 0
	}
	return sess.StartMeterWh + uint64(jittered)
}

// SoCPercent converts delivered energy into battery percentage, capped at 100.
func (m *Meter) SoCPercent(sess ConnectorSession, nowMs int64) int {
	if !sess.IsCharging {
		return sess.StartSoCPercent
	}
	gained := m.energyWh(sess, nowMs) * 100.0 / float64(m.cfg.BatteryCapacityWh)
	soc := sess.StartSoCPercent + int(gained)
	if soc > 100 {
		soc = 100
	}
	return soc
}

func (m *Meter) VoltageV(charging bool) int {
	if !charging {
		return 0
	}
	return clampNonNegative(m.cfg.NominalVoltageV + m.symJitter(m.cfg.VoltageJitterV))
}

func (m *Meter) CurrentA(charging bool) int {
	if !charging {
		return 0
	}
	return clampNonNegative(m.cfg.NominalCurrentA + m.symJitter(m.cfg.CurrentJitterA))
}

func (m *Meter) PowerW(charging bool) int {
	if !charging {
		return 0
	}
	return clampNonNegative(m.cfg.ChargingPowerW + m.symJitter(m.cfg.PowerJitterW))
}

// Snapshot recomputes the full reading set for one connector.
func (m *Meter) Snapshot(sess ConnectorSession, connector int, nowMs int64) TelemetrySnapshot {
	return TelemetrySnapshot{
		MeterWh:    m.ValueWh(sess, connector, nowMs),
		SoCPercent: m.SoCPercent(sess, nowMs),
		VoltageV:   m.VoltageV(sess.IsCharging),
		CurrentA:   m.CurrentA(sess.IsCharging),
		PowerW:     m.PowerW(sess.IsCharging),
		IsCharging: sess.IsCharging,
	}
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
