package main

import (
	"strconv"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

func (h *ChargePointHandler) OnChangeConfiguration(request *core.ChangeConfigurationRequest) (*core.ChangeConfigurationConfirmation, error) {
	key := request.Key
	h.station.log.Println("OnChangeConfiguration", key)
	if _, ok := supportedConfigurationKeys[key]; !ok {
		return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusNotSupported), nil
	}

	switch key {
	case "NumberOfConnectors", "SupportedFeatureProfiles":
		// Fixed at boot.
		return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusRejected), nil
	case "HeartbeatInterval", "MeterValueSampleInterval":
		if v, err := strconv.Atoi(request.Value); err != nil || v <= 0 {
			return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusRejected), nil
		}
	}

	if err := h.station.store.SetConfigValue(key, request.Value); err != nil {
		h.station.log.WithError(err).
			WithField("key", key).
			WithField("value", request.Value).
			Error("Error updating configuration")
		return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusRejected), err
	}
	return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusAccepted), nil
}

func (h *ChargePointHandler) OnGetConfiguration(request *core.GetConfigurationRequest) (*core.GetConfigurationConfirmation, error) {
	keys := request.Key
	h.station.log.Println("OnGetConfiguration", keys)

	if len(keys) == 0 {
		for key := range supportedConfigurationKeys {
			keys = append(keys, key)
		}
	}

	unknownKeys := make([]string, 0)
	cKeys := []core.ConfigurationKey{}
	for _, key := range keys {
		if _, ok := supportedConfigurationKeys[key]; !ok {
			unknownKeys = append(unknownKeys, key)
			continue
		}
		value, ok := h.station.store.ConfigValue(key)
		if !ok {
			unknownKeys = append(unknownKeys, key)
			continue
		}
		v := value
		cKeys = append(cKeys, core.ConfigurationKey{Key: key, Value: &v})
	}
	return &core.GetConfigurationConfirmation{UnknownKey: unknownKeys, ConfigurationKey: cKeys}, nil
}
