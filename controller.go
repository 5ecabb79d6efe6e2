package main

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

var errRetriesExhausted = errors.New("retries exhausted")

// retryBounded runs fn up to maxRetries+1 times, sleeping delay between
// attempts, for as long as fn reports a retryable outcome.
func retryBounded(maxRetries int, delay time.Duration, fn func() (retry bool, err error)) error {
	for attempt := 0; ; attempt++ {
		again, err := fn()
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
		if attempt == maxRetries {
			return errRetriesExhausted
		}
		time.Sleep(delay)
	}
}

// sessionController drives one connector through a full charging session:
// open the protocol session, authorize, start the transaction, wait for a
// matching stop signal, then stop the transaction and release the slot.
// Exactly one controller runs per connector at a time; the table slot
// enforces that.
type sessionController struct {
	station   *Station
	connector int
	idTag     string
	log       *log.Entry
}

func (c *sessionController) run() {
	st := c.station
	defer st.wg.Done()
	defer st.table.release(c.connector, c)

	// Register before any wait so a stop published during setup is not
	// lost; the deferred unsubscribe covers every exit path.
	obs := st.bus.Subscribe()
	defer obs.Unsubscribe()

	sess, err := st.dialer.OpenSession(c.connector)
	if err != nil {
		c.log.WithError(err).Error("cannot open protocol session")
		st.pushIdleSnapshot(c.connector)
		st.display.Notify(fmt.Sprintf("connector %d: protocol session failed", c.connector))
		return
	}
	defer sess.Close()

	status, ok := c.authorize(sess)
	if !ok {
		return
	}
	if status != AuthAccepted {
		c.log.WithField("status", status).Info("authorization rejected")
		st.display.Notify(fmt.Sprintf("connector %d: authorization %s", c.connector, status))
		return
	}

	startMeter := st.startBaselineWh(c.connector)
	st.table.beginSession(c.connector, st.nowMs(), startMeter, st.cfg.StartSoCPercent)

	res, txID, err := sess.StartTransaction(startMeter, st.cfg.CallTimeout.D())
	if err != nil || res != CallOK {
		c.log.WithError(err).WithField("result", res).Error("transaction start failed")
		st.table.abortSession(c.connector)
		st.pushIdleSnapshot(c.connector)
		st.display.Notify(fmt.Sprintf("connector %d: transaction start failed", c.connector))
		return
	}
	st.table.setTransactionID(c.connector, txID)
	st.store.RecordSessionStart(c.connector, txID)
	c.log.WithFields(log.Fields{
		"transaction_id": txID,
		"meter_start":    startMeter,
		"id_tag":         c.idTag,
	}).Info("transaction started")
	st.display.Notify(fmt.Sprintf("connector %d: charging", c.connector))
	st.refreshConnector(c.connector)

	c.waitForStop(obs)
	c.stop(sess, txID)
}

// authorize retries on transport errors with a fixed delay until the
// central system answers. The second return is false when the station is
// shutting down.
func (c *sessionController) authorize(sess ProtocolSession) (AuthStatus, bool) {
	st := c.station
	for {
		status, err := sess.Authorize(c.idTag, st.cfg.CallTimeout.D())
		if err == nil {
			return status, true
		}
		c.log.WithError(err).Warn("authorize failed, retrying")
		select {
		case <-st.stopC:
			return "", false
		case <-time.After(st.cfg.AuthRetryInterval.D()):
		}
	}
}

// waitForStop blocks on the bus until a signal addressed to this connector
// arrives. Signals for other connectors are discarded. Station shutdown
// counts as a stop.
func (c *sessionController) waitForStop(obs *StopObserver) {
	for {
		select {
		case sig := <-obs.C():
			if sig.ConnectorID != c.connector {
				c.log.WithField("signal_connector", sig.ConnectorID).Debug("ignoring stop signal for other connector")
				continue
			}
			return
		case <-c.station.stopC:
			return
		}
	}
}

// stop finalizes metering, forces the connector idle, and closes the
// transaction upstream. When the remote side keeps answering "retry" past
// the bounded retry budget the local state still goes idle; a stuck
// connector is worse than a disputed transaction record.
func (c *sessionController) stop(sess ProtocolSession, txID int) {
	st := c.station

	sessState, _ := st.table.Session(c.connector)
	nowMs := st.nowMs()
	finalMeter := st.meter.ValueWh(sessState, c.connector, nowMs)
	finalSoC := st.meter.SoCPercent(sessState, nowMs)
	st.table.endSession(c.connector, finalMeter, finalSoC)

	err := retryBounded(st.cfg.StopRetryMax, st.cfg.StopRetryInterval.D(), func() (bool, error) {
		res, err := sess.StopTransaction(txID, finalMeter, st.cfg.CallTimeout.D())
		if err != nil {
			return false, err
		}
		switch res {
		case CallRetry:
			c.log.Debug("transaction stop busy, retrying")
			return true, nil
		case CallError:
			return false, errors.New("transaction stop refused")
		}
		return false, nil
	})
	if err != nil {
		c.log.WithError(err).WithField("transaction_id", txID).
			Error("transaction stop unresolved, forcing local idle")
	} else {
		c.log.WithFields(log.Fields{
			"transaction_id": txID,
			"meter_stop":     finalMeter,
		}).Info("transaction stopped")
	}

	st.store.RecordSessionEnd(c.connector, finalMeter, finalSoC)
	st.pushIdleSnapshot(c.connector)
	st.display.Notify(fmt.Sprintf("connector %d: available", c.connector))
}
