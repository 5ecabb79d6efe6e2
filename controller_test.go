package main

import (
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func testLogger() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type recordingDisplay struct {
	mu    sync.Mutex
	notes []string
	snaps map[int]TelemetrySnapshot
}

func newRecordingDisplay() *recordingDisplay {
	return &recordingDisplay{snaps: make(map[int]TelemetrySnapshot)}
}

func (d *recordingDisplay) UpdateConnector(connector int, snap TelemetrySnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snaps[connector] = snap
}

func (d *recordingDisplay) Notify(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notes = append(d.notes, message)
}

func (d *recordingDisplay) notifications() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.notes))
	copy(out, d.notes)
	return out
}

type fakeSession struct {
	mu        sync.Mutex
	connector int

	authErrs    int
	authStatus  AuthStatus
	startResult CallResult
	startErr    error
	stopScript  []CallResult

	authCalls      int
	startCalls     int
	stopCalls      int
	lastStartMeter uint64
	lastStopMeter  uint64
	lastStopTx     int
	closed         bool
}

func (s *fakeSession) Authorize(idTag string, timeout time.Duration) (AuthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCalls++
	if s.authErrs > 0 {
		s.authErrs--
		return "", errors.New("transport down")
	}
	if s.authStatus == "" {
		return AuthAccepted, nil
	}
	return s.authStatus, nil
}

func (s *fakeSession) StartTransaction(meterWh uint64, timeout time.Duration) (CallResult, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	s.lastStartMeter = meterWh
	if s.startErr != nil {
		return CallError, 0, s.startErr
	}
	if s.startResult != CallOK {
		return s.startResult, 0, nil
	}
	return CallOK, 100 + s.connector, nil
}

func (s *fakeSession) StopTransaction(txID int, meterWh uint64, timeout time.Duration) (CallResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	s.lastStopTx = txID
	s.lastStopMeter = meterWh
	if len(s.stopScript) == 0 {
		return CallOK, nil
	}
	res := s.stopScript[0]
	if len(s.stopScript) > 1 {
		s.stopScript = s.stopScript[1:]
	}
	return res, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type sessionStats struct {
	auth, start, stop     int
	startMeter, stopMeter uint64
	stopTx                int
	closed                bool
}

func (s *fakeSession) stats() sessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionStats{
		auth:       s.authCalls,
		start:      s.startCalls,
		stop:       s.stopCalls,
		startMeter: s.lastStartMeter,
		stopMeter:  s.lastStopMeter,
		stopTx:     s.lastStopTx,
		closed:     s.closed,
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	openErr  error
	scripted func() *fakeSession
	sessions []*fakeSession
}

func (d *fakeDialer) OpenSession(connector int) (ProtocolSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	var s *fakeSession
	if d.scripted != nil {
		s = d.scripted()
	} else {
		s = &fakeSession{}
	}
	s.connector = connector
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

func newTestStation(t *testing.T, connectors int, dialer ProtocolDialer) (*Station, *recordingDisplay) {
	t.Helper()
	store, err := OpenMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := DefaultConfig()
	cfg.Connectors = connectors
	cfg.CallTimeout = Duration(50 * time.Millisecond)
	cfg.AuthRetryInterval = Duration(5 * time.Millisecond)
	cfg.StopRetryInterval = Duration(time.Millisecond)
	cfg.RefreshInterval = Duration(20 * time.Millisecond)

	disp := newRecordingDisplay()
	st := NewStation(cfg, testLogger(), store, dialer, disp, rand.New(rand.NewSource(1)))
	t.Cleanup(st.Stop)
	return st, disp
}

func charging(st *Station, connector int) bool {
	sess, _ := st.table.Session(connector)
	return sess.IsCharging
}

func TestChargeSessionLifecycle(t *testing.T) {
	dialer := &fakeDialer{}
	st, _ := newTestStation(t, 1, dialer)

	st.TriggerStart(0, "TAG-1")
	waitFor(t, func() bool {
		return dialer.openCount() == 1 && dialer.session(0).stats().start == 1
	})

	sess := dialer.session(0)
	if got := sess.stats().startMeter; got != st.meter.IdleBaselineWh(0) {
		t.Errorf("start meter = %d, want idle baseline %d", got, st.meter.IdleBaselineWh(0))
	}

	st.TriggerStop(0)
	waitFor(t, func() bool { return !st.table.occupied(0) })

	if charging(st, 0) {
		t.Error("connector still charging after stop")
	}
	stats := sess.stats()
	if stats.stop != 1 {
		t.Errorf("expected 1 stop transaction call, got %d", stats.stop)
	}
	if stats.stopMeter < stats.startMeter {
		t.Errorf("stop meter %d below start meter %d", stats.stopMeter, stats.startMeter)
	}
	if stats.stopTx != 100 {
		t.Errorf("stop used transaction id %d, want 100", stats.stopTx)
	}
	if !stats.closed {
		t.Error("protocol session not closed")
	}

	// The final reading seeds the next session's baseline.
	persisted, ok := st.store.LastMeterWh(0)
	if !ok || persisted != stats.stopMeter {
		t.Errorf("persisted baseline = %d (ok=%v), want %d", persisted, ok, stats.stopMeter)
	}

	st.TriggerStart(0, "TAG-2")
	waitFor(t, func() bool {
		return dialer.openCount() == 2 && dialer.session(1).stats().start == 1
	})
	if got := dialer.session(1).stats().startMeter; got != persisted {
		t.Errorf("second session start meter = %d, want %d", got, persisted)
	}
	st.TriggerStop(0)
	waitFor(t, func() bool { return !st.table.occupied(0) })
}

func TestAuthorizationRejected(t *testing.T) {
	dialer := &fakeDialer{scripted: func() *fakeSession {
		return &fakeSession{authStatus: AuthRejected}
	}}
	st, disp := newTestStation(t, 1, dialer)

	st.TriggerStart(0, "BAD-TAG")
	waitFor(t, func() bool { return !st.table.occupied(0) })

	stats := dialer.session(0).stats()
	if stats.auth != 1 {
		t.Errorf("expected 1 authorize call, got %d", stats.auth)
	}
	if stats.start != 0 {
		t.Errorf("start transaction must not be called after rejection, got %d calls", stats.start)
	}
	if charging(st, 0) {
		t.Error("connector charging after rejected authorization")
	}
	if len(disp.notifications()) == 0 {
		t.Error("expected a rejection notification on the display")
	}

	// Slot is free again.
	st.TriggerStart(0, "TAG-OK")
	waitFor(t, func() bool { return dialer.openCount() == 2 })
}

func TestAuthorizeRetriesOnTransportError(t *testing.T) {
	dialer := &fakeDialer{scripted: func() *fakeSession {
		return &fakeSession{authErrs: 2}
	}}
	st, _ := newTestStation(t, 1, dialer)

	st.TriggerStart(0, "TAG")
	waitFor(t, func() bool { return charging(st, 0) })

	if got := dialer.session(0).stats().auth; got != 3 {
		t.Errorf("expected 3 authorize attempts (2 failures + 1 success), got %d", got)
	}
	st.TriggerStop(0)
	waitFor(t, func() bool { return !st.table.occupied(0) })
}

func TestOpenSessionFailureResetsToIdle(t *testing.T) {
	dialer := &fakeDialer{openErr: errors.New("dial refused")}
	st, disp := newTestStation(t, 1, dialer)

	st.TriggerStart(0, "TAG")
	waitFor(t, func() bool { return !st.table.occupied(0) })

	if charging(st, 0) {
		t.Error("connector charging after failed session open")
	}
	if len(disp.notifications()) == 0 {
		t.Error("expected a failure notification on the display")
	}
}

func TestStartOnOccupiedSlotDropped(t *testing.T) {
	dialer := &fakeDialer{}
	st, _ := newTestStation(t, 1, dialer)

	st.TriggerStart(0, "FIRST")
	waitFor(t, func() bool { return charging(st, 0) })

	st.TriggerStart(0, "SECOND")
	time.Sleep(20 * time.Millisecond)
	if got := dialer.openCount(); got != 1 {
		t.Errorf("busy start must not open a second session, got %d opens", got)
	}

	st.TriggerStop(0)
	waitFor(t, func() bool { return !st.table.occupied(0) })
}

func TestStopSignalIsolation(t *testing.T) {
	dialer := &fakeDialer{}
	st, _ := newTestStation(t, 2, dialer)

	st.TriggerStart(0, "A")
	st.TriggerStart(1, "B")
	waitFor(t, func() bool { return charging(st, 0) && charging(st, 1) })

	st.TriggerStop(0)
	waitFor(t, func() bool { return !st.table.occupied(0) })

	if !charging(st, 1) {
		t.Fatal("stop for connector 0 ended connector 1's session")
	}

	st.TriggerStop(1)
	waitFor(t, func() bool { return !st.table.occupied(1) })
}

func TestStopRetryThenSuccess(t *testing.T) {
	script := make([]CallResult, 0, 10)
	for i := 0; i < 9; i++ {
		script = append(script, CallRetry)
	}
	script = append(script, CallOK)

	dialer := &fakeDialer{scripted: func() *fakeSession {
		return &fakeSession{stopScript: append([]CallResult(nil), script...)}
	}}
	st, _ := newTestStation(t, 1, dialer)

	st.TriggerStart(0, "TAG")
	waitFor(t, func() bool { return charging(st, 0) })
	st.TriggerStop(0)
	waitFor(t, func() bool { return !st.table.occupied(0) })

	if got := dialer.session(0).stats().stop; got != 10 {
		t.Errorf("expected 10 stop attempts (9 retries + success), got %d", got)
	}
	if charging(st, 0) {
		t.Error("connector still charging")
	}
}

func TestStopRetryExhaustedForcesIdle(t *testing.T) {
	dialer := &fakeDialer{scripted: func() *fakeSession {
		return &fakeSession{stopScript: []CallResult{CallRetry}} // retry forever
	}}
	st, _ := newTestStation(t, 1, dialer)

	st.TriggerStart(0, "TAG")
	waitFor(t, func() bool { return charging(st, 0) })
	st.TriggerStop(0)
	waitFor(t, func() bool { return !st.table.occupied(0) })

	if got := dialer.session(0).stats().stop; got != 11 {
		t.Errorf("expected 11 stop attempts (initial + 10 retries), got %d", got)
	}
	if charging(st, 0) {
		t.Error("local state must be idle even when the remote side never confirmed")
	}
}

func TestConcurrentAnyStartsAcquireDistinctSlots(t *testing.T) {
	dialer := &fakeDialer{}
	st, _ := newTestStation(t, 2, dialer)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.TriggerStart(AnyConnector, "ANY")
		}()
	}
	wg.Wait()
	waitFor(t, func() bool { return charging(st, 0) && charging(st, 1) })

	st.TriggerStart(AnyConnector, "THIRD")
	time.Sleep(20 * time.Millisecond)
	if got := dialer.openCount(); got != 2 {
		t.Errorf("third start on a full station must be dropped, got %d opens", got)
	}

	st.TriggerStop(0)
	st.TriggerStop(1)
	waitFor(t, func() bool { return !st.table.occupied(0) && !st.table.occupied(1) })
}

func TestStopOnIdleConnectorIsNoOp(t *testing.T) {
	dialer := &fakeDialer{}
	st, _ := newTestStation(t, 2, dialer)

	st.TriggerStop(1)
	if got := dialer.openCount(); got != 0 {
		t.Errorf("stop on idle connector opened %d sessions", got)
	}
}

func TestInvalidConnectorIDIgnored(t *testing.T) {
	dialer := &fakeDialer{}
	st, _ := newTestStation(t, 2, dialer)

	st.TriggerStart(7, "TAG")
	st.TriggerStart(-3, "TAG")
	st.TriggerStop(7)
	st.TriggerStop(-3)

	time.Sleep(10 * time.Millisecond)
	if got := dialer.openCount(); got != 0 {
		t.Errorf("invalid connector ids must be no-ops, got %d opens", got)
	}
}

func TestButtonPressPolicy(t *testing.T) {
	dialer := &fakeDialer{}
	st, _ := newTestStation(t, 2, dialer)

	// Nothing charging: button starts the default connector.
	st.HandleButtonPress()
	waitFor(t, func() bool { return charging(st, st.cfg.DefaultConnector) })

	// Something charging: button stops the first charging connector.
	st.HandleButtonPress()
	waitFor(t, func() bool { return !st.table.occupied(st.cfg.DefaultConnector) })
	if charging(st, st.cfg.DefaultConnector) {
		t.Error("button press did not stop the charging connector")
	}
}

func TestRetryBounded(t *testing.T) {
	calls := 0
	err := retryBounded(3, 0, func() (bool, error) {
		calls++
		return calls < 3, nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err=%v calls=%d, want nil and 3", err, calls)
	}

	calls = 0
	err = retryBounded(3, 0, func() (bool, error) {
		calls++
		return true, nil
	})
	if !errors.Is(err, errRetriesExhausted) {
		t.Errorf("expected errRetriesExhausted, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 attempts (initial + 3 retries), got %d", calls)
	}

	boom := errors.New("boom")
	calls = 0
	err = retryBounded(3, 0, func() (bool, error) {
		calls++
		return false, boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Errorf("err=%v calls=%d, want boom and 1", err, calls)
	}
}
