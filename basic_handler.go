package main

import (
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

func (h *ChargePointHandler) OnChangeAvailability(request *core.ChangeAvailabilityRequest) (*core.ChangeAvailabilityConfirmation, error) {
	connector := request.ConnectorId - 1
	h.station.log.Println("OnChangeAvailability", connector, request.Type)
	if request.ConnectorId != 0 && !h.station.table.valid(connector) {
		return core.NewChangeAvailabilityConfirmation(core.AvailabilityStatusRejected), nil
	}
	if request.Type == core.AvailabilityTypeInoperative && h.station.table.occupied(connector) {
		return core.NewChangeAvailabilityConfirmation(core.AvailabilityStatusScheduled), nil
	}
	return core.NewChangeAvailabilityConfirmation(core.AvailabilityStatusAccepted), nil
}

func (h *ChargePointHandler) OnClearCache(request *core.ClearCacheRequest) (*core.ClearCacheConfirmation, error) {
	h.station.log.Println("OnClearCache", request.GetFeatureName())
	return core.NewClearCacheConfirmation(core.ClearCacheStatusAccepted), nil
}

func (h *ChargePointHandler) OnDataTransfer(request *core.DataTransferRequest) (*core.DataTransferConfirmation, error) {
	h.station.log.Println("OnDataTransfer", request.VendorId, request.MessageId)
	return core.NewDataTransferConfirmation(core.DataTransferStatusAccepted), nil
}

func (h *ChargePointHandler) OnReset(request *core.ResetRequest) (*core.ResetConfirmation, error) {
	h.station.log.Println("OnReset", request.Type)
	// End every running session before the pretend reboot.
	for i := 0; i < h.station.table.Size(); i++ {
		if h.station.table.occupied(i) {
			h.station.TriggerStop(i)
		}
	}
	return core.NewResetConfirmation(core.ResetStatusAccepted), nil
}
