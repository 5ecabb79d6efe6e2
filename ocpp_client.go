package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-faker/faker/v4"
	ocpp16 "github.com/lorenzodonini/ocpp-go/ocpp1.6"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/lorenzodonini/ocpp-go/ws"
	log "github.com/sirupsen/logrus"
)

// ocppDialer adapts the ocpp-go 1.6 client to the protocol interfaces the
// controllers drive. One websocket connection to the central system is
// shared by all connector sessions; OCPP connector ids are 1-based on the
// wire, internal ids are 0-based.
type ocppDialer struct {
	cp    ocpp16.ChargePoint
	store *Store
	log   *log.Entry
	stopC chan struct{}
}

func newOCPPDialer(store *Store, entry *log.Entry) *ocppDialer {
	return &ocppDialer{
		store: store,
		log:   entry,
		stopC: make(chan struct{}),
	}
}

// Connect dials the central system, runs the boot notification handshake
// and starts the heartbeat loop.
func (d *ocppDialer) Connect(csURL, stationID string, station *Station) error {
	wsClient := ws.NewClient()
	d.cp = ocpp16.NewChargePoint(stationID, nil, wsClient)
	d.cp.SetCoreHandler(&ChargePointHandler{station: station, dialer: d})

	if err := d.cp.Start(csURL); err != nil {
		return err
	}
	if err := d.bootNotification(); err != nil {
		return err
	}
	go d.heartbeatLoop()
	return nil
}

func (d *ocppDialer) Disconnect() {
	close(d.stopC)
	if d.cp != nil && d.cp.IsConnected() {
		d.cp.Stop()
	}
}

func (d *ocppDialer) bootNotification() error {
	result, err := d.cp.BootNotification(
		faker.LastName(), faker.FirstName(),
		func(request *core.BootNotificationRequest) {
			request.ChargePointSerialNumber = faker.CCNumber()
			request.MeterSerialNumber = faker.CCNumber()
			request.FirmwareVersion = appVersion
		})
	if err != nil {
		return err
	}
	if result.Status != core.RegistrationStatusAccepted {
		d.log.Println("BootNotification rejected", result.Status)
	}
	return d.store.SetHeartbeatInterval(result.Interval)
}

func (d *ocppDialer) heartbeatLoop() {
	for {
		time.Sleep(d.store.HeartbeatInterval())

		select {
		case <-d.stopC:
			d.log.Debugln("stop signal received in heartbeat")
			return
		default:
		}

		if _, err := d.cp.Heartbeat(); err != nil {
			d.log.WithError(err).Debugln("Heartbeat error")
			continue
		}
		d.log.Println("Heartbeat sent to central system")
	}
}

func (d *ocppDialer) statusNotification(connector int, status core.ChargePointStatus) {
	_, err := d.cp.StatusNotification(
		connector+1, core.NoError, status,
		func(request *core.StatusNotificationRequest) {
			request.Info = fmt.Sprintf("connector %d %s", connector, status)
			request.Timestamp = types.NewDateTime(time.Now())
		},
	)
	if err != nil {
		d.log.WithError(err).WithField("connector", connector).Debugln("StatusNotification")
	}
}

func (d *ocppDialer) OpenSession(connector int) (ProtocolSession, error) {
	if d.cp == nil || !d.cp.IsConnected() {
		return nil, fmt.Errorf("central system not connected")
	}
	d.statusNotification(connector, core.ChargePointStatusPreparing)
	return &ocppSession{dialer: d, connector: connector}, nil
}

// ReportMeterValues forwards one sampled reading set for a running
// transaction, mirroring what a periodic MeterValues sender would push.
func (d *ocppDialer) ReportMeterValues(connector int, snap TelemetrySnapshot, txID int) {
	if d.cp == nil || !d.cp.IsConnected() {
		return
	}
	sampled := []types.SampledValue{
		{Value: strconv.FormatUint(snap.MeterWh, 10), Measurand: types.MeasurandEnergyActiveImportRegister, Unit: types.UnitOfMeasureWh},
		{Value: strconv.Itoa(snap.PowerW), Measurand: types.MeasurandPowerActiveImport, Unit: types.UnitOfMeasureW},
		{Value: strconv.Itoa(snap.VoltageV), Measurand: types.MeasurandVoltage, Unit: types.UnitOfMeasureV},
		{Value: strconv.Itoa(snap.CurrentA), Measurand: types.MeasurandCurrentImport, Unit: types.UnitOfMeasureA},
		{Value: strconv.Itoa(snap.SoCPercent), Measurand: types.MeasueandSoC, Unit: types.UnitOfMeasurePercent},
	}
	_, err := d.cp.MeterValues(
		connector+1,
		[]types.MeterValue{
			{
				Timestamp:    types.NewDateTime(time.Now()),
				SampledValue: sampled,
			},
		},
		func(request *core.MeterValuesRequest) {
			request.TransactionId = &txID
		},
	)
	if err != nil {
		d.log.WithError(err).WithField("connector", connector).Error("Error sending meter values")
	}
}

type ocppSession struct {
	dialer    *ocppDialer
	connector int
	idTag     string
}

func (s *ocppSession) Authorize(idTag string, timeout time.Duration) (AuthStatus, error) {
	s.idTag = idTag
	conf, err := s.dialer.cp.Authorize(idTag)
	if err != nil {
		return "", err
	}
	return AuthStatus(conf.IdTagInfo.Status), nil
}

func (s *ocppSession) StartTransaction(meterWh uint64, timeout time.Duration) (CallResult, int, error) {
	conf, err := s.dialer.cp.StartTransaction(
		s.connector+1, s.idTag, int(meterWh), types.NewDateTime(time.Now()))
	if err != nil {
		return CallError, 0, err
	}
	switch conf.IdTagInfo.Status {
	case types.AuthorizationStatusAccepted:
		s.dialer.statusNotification(s.connector, core.ChargePointStatusCharging)
		return CallOK, conf.TransactionId, nil
	case types.AuthorizationStatusConcurrentTx:
		return CallRetry, 0, nil
	default:
		return CallError, 0, nil
	}
}

func (s *ocppSession) StopTransaction(txID int, meterWh uint64, timeout time.Duration) (CallResult, error) {
	s.dialer.statusNotification(s.connector, core.ChargePointStatusFinishing)
	_, err := s.dialer.cp.StopTransaction(
		int(meterWh), types.NewDateTime(time.Now()), txID,
		func(request *core.StopTransactionRequest) {
			request.Reason = core.ReasonRemote
			request.IdTag = s.idTag
		},
	)
	if err != nil {
		return CallError, err
	}
	return CallOK, nil
}

func (s *ocppSession) Close() error {
	s.dialer.statusNotification(s.connector, core.ChargePointStatusAvailable)
	return nil
}
