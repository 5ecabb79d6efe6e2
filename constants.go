package main

// AnyConnector asks TriggerStart to pick the first free connector.
const AnyConnector = -1

// Badger key formats for per-connector state. The meter baseline survives
// restarts so a new session continues from the previous final reading.
const (
	lastMeterKeyFmt    = "connector_%d__last_meter_wh"
	lastSoCKeyFmt      = "connector_%d__last_soc"
	transactionKeyFmt  = "connector_%d__transaction_id"
	sessionCountKeyFmt = "connector_%d__session_count"
)

var supportedConfigurationKeys = map[string]struct{}{
	"AuthorizeRemoteTxRequests":         {},
	"ConnectionTimeOut":                 {},
	"GetConfigurationMaxKeys":           {},
	"HeartbeatInterval":                 {},
	"MeterValuesSampledData":            {},
	"MeterValueSampleInterval":          {},
	"NumberOfConnectors":                {},
	"ResetRetries":                      {},
	"StopTransactionOnEVSideDisconnect": {},
	"SupportedFeatureProfiles":          {},
	"TransactionMessageAttempts":        {},
	"TransactionMessageRetryInterval":   {},
	"WebSocketPingInterval":             {},
	"CpoName":                           {},
}
