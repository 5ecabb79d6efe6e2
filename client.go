package main

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// CallResult classifies a protocol call outcome. CallRetry is a first-class
// "busy, try again" answer from the remote side, distinct from a transport
// error, and drives the bounded retry policy in the controller.
type CallResult int

const (
	CallOK CallResult = iota
	CallRetry
	CallError
)

func (r CallResult) String() string {
	switch r {
	case CallOK:
		return "ok"
	case CallRetry:
		return "retry"
	default:
		return "error"
	}
}

// AuthStatus is the authorization answer carried back from the central
// system. Anything other than AuthAccepted aborts the session attempt.
type AuthStatus string

const (
	AuthAccepted AuthStatus = "Accepted"
	AuthRejected AuthStatus = "Rejected"
)

// ProtocolDialer opens one protocol session per connector session attempt.
type ProtocolDialer interface {
	OpenSession(connector int) (ProtocolSession, error)
}

// ProtocolSession is the per-session handle the controller drives. All
// calls may time out; a returned error means transport failure.
type ProtocolSession interface {
	Authorize(idTag string, timeout time.Duration) (AuthStatus, error)
	StartTransaction(meterWh uint64, timeout time.Duration) (CallResult, int, error)
	StopTransaction(txID int, meterWh uint64, timeout time.Duration) (CallResult, error)
	Close() error
}

// MeterReporter is implemented by dialers that can forward sampled meter
// values upstream while a transaction runs.
type MeterReporter interface {
	ReportMeterValues(connector int, snap TelemetrySnapshot, txID int)
}

// simDialer is the standalone-mode protocol client: every authorization is
// accepted and transaction ids are allocated locally. It keeps the full
// state machine exercisable without a central system.
type simDialer struct {
	log *log.Entry

	mu     sync.Mutex
	nextTx int
}

func newSimDialer(entry *log.Entry) *simDialer {
	return &simDialer{log: entry, nextTx: 1}
}

func (d *simDialer) OpenSession(connector int) (ProtocolSession, error) {
	d.log.WithField("connector", connector).Debug("opening simulated protocol session")
	return &simSession{dialer: d, connector: connector}, nil
}

func (d *simDialer) allocTx() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextTx
	d.nextTx++
	return id
}

type simSession struct {
	dialer    *simDialer
	connector int
}

func (s *simSession) Authorize(idTag string, timeout time.Duration) (AuthStatus, error) {
	s.dialer.log.WithField("id_tag", idTag).Debug("simulated authorize")
	return AuthAccepted, nil
}

func (s *simSession) StartTransaction(meterWh uint64, timeout time.Duration) (CallResult, int, error) {
	txID := s.dialer.allocTx()
	s.dialer.log.WithFields(log.Fields{
		"connector":      s.connector,
		"meter_start":    meterWh,
		"transaction_id": txID,
	}).Debug("simulated transaction start")
	return CallOK, txID, nil
}

func (s *simSession) StopTransaction(txID int, meterWh uint64, timeout time.Duration) (CallResult, error) {
	s.dialer.log.WithFields(log.Fields{
		"connector":      s.connector,
		"meter_stop":     meterWh,
		"transaction_id": txID,
	}).Debug("simulated transaction stop")
	return CallOK, nil
}

func (s *simSession) Close() error { return nil }
