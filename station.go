package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-faker/faker/v4"
	log "github.com/sirupsen/logrus"
)

// Station ties the connector table, the stop bus, the metering model and
// the telemetry surfaces together. It exposes the three public operations:
// TriggerStart, TriggerStop and HandleButtonPress. Triggers are
// fire-and-forget: failures are logged and surfaced on the display, never
// returned to the trigger source.
type Station struct {
	cfg       Config
	log       *log.Entry
	table     *ConnectorTable
	bus       *StopBus
	meter     *Meter
	store     *Store
	dialer    ProtocolDialer
	display   Display
	telemetry *TelemetryTable

	epoch time.Time
	stopC chan struct{}
	wg    sync.WaitGroup

	stopOnce sync.Once
}

func NewStation(cfg Config, entry *log.Entry, store *Store, dialer ProtocolDialer, display Display, rng *rand.Rand) *Station {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Station{
		cfg:       cfg,
		log:       entry,
		table:     NewConnectorTable(cfg.Connectors),
		bus:       NewStopBus(cfg.Connectors * 4),
		meter:     NewMeter(cfg, rng),
		store:     store,
		dialer:    dialer,
		display:   display,
		telemetry: NewTelemetryTable(cfg.Connectors),
		epoch:     time.Now().Add(-time.Millisecond),
		stopC:     make(chan struct{}),
	}
}

// nowMs is the monotonic millisecond clock all session math uses. Wall
// clock time is only ever used for logging.
func (s *Station) nowMs() int64 {
	return time.Since(s.epoch).Milliseconds()
}

// Start seeds the telemetry table and launches the periodic refresher.
func (s *Station) Start() {
	for i := 0; i < s.table.Size(); i++ {
		s.pushIdleSnapshot(i)
	}
	s.wg.Add(1)
	go s.refreshLoop()
}

// Stop signals every background unit and waits for active controllers to
// run their stop path.
func (s *Station) Stop() {
	s.stopOnce.Do(func() { close(s.stopC) })
	s.wg.Wait()
}

func (s *Station) refreshLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RefreshInterval.D())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RefreshAllTelemetry()
		case <-s.stopC:
			return
		}
	}
}

// TriggerStart begins a charging session. connector may be AnyConnector to
// pick the first free slot. A start aimed at an occupied slot is dropped
// with a log line; the caller is never told.
func (s *Station) TriggerStart(connector int, idTag string) {
	if connector != AnyConnector && !s.table.valid(connector) {
		s.log.WithField("connector", connector).Warn("start trigger for invalid connector ignored")
		return
	}
	if idTag == "" {
		idTag = faker.CCNumber()
	}

	ctl := &sessionController{station: s, idTag: idTag}
	if connector == AnyConnector {
		id, ok := s.table.claimAny(ctl)
		if !ok {
			s.log.WithField("id_tag", idTag).Println("all connectors busy, start request dropped")
			return
		}
		connector = id
	} else if !s.table.claim(connector, ctl) {
		s.log.WithFields(log.Fields{
			"connector": connector,
			"id_tag":    idTag,
		}).Println("connector busy, start request dropped")
		return
	}
	ctl.connector = connector
	ctl.log = s.log.WithField("connector", connector)

	s.wg.Add(1)
	go ctl.run()
}

// TriggerStop publishes a stop signal for the connector. A stop aimed at an
// idle connector is a no-op.
func (s *Station) TriggerStop(connector int) {
	if !s.table.valid(connector) {
		s.log.WithField("connector", connector).Warn("stop trigger for invalid connector ignored")
		return
	}
	if !s.table.occupied(connector) {
		s.log.WithField("connector", connector).Println("no session on connector, stop request dropped")
		return
	}
	s.bus.Publish(StopSignal{ConnectorID: connector})
}

// HandleButtonPress maps the single front-panel button onto the session
// lifecycle: stop the first charging connector if any, otherwise start
// charging on the default connector.
func (s *Station) HandleButtonPress() {
	if id, ok := s.table.FirstCharging(); ok {
		s.log.WithField("connector", id).Info("button press: stopping session")
		s.TriggerStop(id)
		return
	}
	s.log.WithField("connector", s.cfg.DefaultConnector).Info("button press: starting session")
	s.TriggerStart(s.cfg.DefaultConnector, fmt.Sprintf("BTN-%s", faker.CCNumber()))
}

// CanStart reports whether a start trigger for the connector (or any free
// connector) could currently acquire a slot. Remote handlers use it to
// answer accept/reject without racing the actual claim.
func (s *Station) CanStart(connector int) bool {
	if connector == AnyConnector {
		for i := 0; i < s.table.Size(); i++ {
			if !s.table.occupied(i) {
				return true
			}
		}
		return false
	}
	return s.table.valid(connector) && !s.table.occupied(connector)
}

// startBaselineWh is the meter value a new session starts from: the
// previous session's persisted final reading, or the idle baseline on the
// very first session.
func (s *Station) startBaselineWh(connector int) uint64 {
	if wh, ok := s.store.LastMeterWh(connector); ok {
		return wh
	}
	return s.meter.IdleBaselineWh(connector)
}

// RefreshAllTelemetry recomputes every connector's snapshot from its
// session state, independent of controller activity, so displayed values
// stay live between protocol events.
func (s *Station) RefreshAllTelemetry() {
	for i := 0; i < s.table.Size(); i++ {
		s.refreshConnector(i)
	}
}

func (s *Station) refreshConnector(connector int) {
	sess, ok := s.table.Session(connector)
	if !ok {
		return
	}
	snap := s.meter.Snapshot(sess, connector, s.nowMs())
	s.telemetry.Set(connector, snap)
	s.display.UpdateConnector(connector, snap)

	if !snap.IsCharging {
		return
	}
	if reporter, ok := s.dialer.(MeterReporter); ok {
		if txID := s.table.transactionID(connector); txID != 0 {
			reporter.ReportMeterValues(connector, snap, txID)
		}
	}
}

// pushIdleSnapshot publishes the connector's idle reading immediately,
// without waiting for the next refresh tick.
func (s *Station) pushIdleSnapshot(connector int) {
	sess, ok := s.table.Session(connector)
	if !ok || sess.IsCharging {
		return
	}
	snap := s.meter.Snapshot(sess, connector, s.nowMs())
	s.telemetry.Set(connector, snap)
	s.display.UpdateConnector(connector, snap)
}

// Telemetry exposes the snapshot table to display surfaces.
func (s *Station) Telemetry() *TelemetryTable { return s.telemetry }
