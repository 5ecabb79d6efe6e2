package main

import (
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// ChargePointHandler answers requests initiated by the central system.
// Remote start/stop are just alternate trigger sources: they feed the same
// controller paths as the front-panel button.
type ChargePointHandler struct {
	station *Station
	dialer  *ocppDialer
}

func (h *ChargePointHandler) OnRemoteStartTransaction(request *core.RemoteStartTransactionRequest) (*core.RemoteStartTransactionConfirmation, error) {
	connector := AnyConnector
	if request.ConnectorId != nil {
		connector = *request.ConnectorId - 1
	}

	if !h.station.CanStart(connector) {
		h.station.log.
			WithField("id_tag", request.IdTag).
			WithField("connector", connector).
			Println("remote start rejected, connector busy")
		return core.NewRemoteStartTransactionConfirmation(types.RemoteStartStopStatusRejected), nil
	}

	h.station.log.Infoln("remote start", request.IdTag, connector)
	h.station.TriggerStart(connector, request.IdTag)
	return core.NewRemoteStartTransactionConfirmation(types.RemoteStartStopStatusAccepted), nil
}

func (h *ChargePointHandler) OnRemoteStopTransaction(request *core.RemoteStopTransactionRequest) (*core.RemoteStopTransactionConfirmation, error) {
	connector, ok := h.station.table.connectorForTransaction(request.TransactionId)
	if !ok {
		h.station.log.
			WithField("transaction_id", request.TransactionId).
			Println("remote stop for unknown transaction")
		return core.NewRemoteStopTransactionConfirmation(types.RemoteStartStopStatusRejected), nil
	}

	h.station.log.Infoln("remote stop", request.TransactionId, connector)
	h.station.TriggerStop(connector)
	return core.NewRemoteStopTransactionConfirmation(types.RemoteStartStopStatusAccepted), nil
}

func (h *ChargePointHandler) OnUnlockConnector(request *core.UnlockConnectorRequest) (*core.UnlockConnectorConfirmation, error) {
	connector := request.ConnectorId - 1
	h.station.log.Println("OnUnlockConnector", connector)

	sess, ok := h.station.table.Session(connector)
	if !ok {
		return core.NewUnlockConnectorConfirmation(core.UnlockStatusNotSupported), nil
	}
	if sess.IsCharging {
		// Unlocking a charging connector implies ending the session first.
		h.station.TriggerStop(connector)
	}

	go func() {
		time.Sleep(2 * time.Second)
		h.dialer.statusNotification(connector, core.ChargePointStatusAvailable)
	}()
	return core.NewUnlockConnectorConfirmation(core.UnlockStatusUnlocked), nil
}
