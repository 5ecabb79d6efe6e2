package main

import (
	"sync"
)

// ConnectorSession records whether one connector is charging and the
// readings snapshotted when the transaction started. Each session entry is
// written only by its own connector's controller; all access goes through
// the table lock and values are copied out, never referenced.
type ConnectorSession struct {
	StartTimeMs     int64
	StartMeterWh    uint64
	StartSoCPercent int
	IsCharging      bool
}

// ConnectorTable owns every per-connector session entry plus the execution
// slots. A slot holds at most one live controller; claiming an occupied
// slot fails so two controllers can never drive the same connector.
type ConnectorTable struct {
	mu       sync.Mutex
	sessions []ConnectorSession
	slots    []*sessionController
	txIDs    []int
}

func NewConnectorTable(connectors int) *ConnectorTable {
	return &ConnectorTable{
		sessions: make([]ConnectorSession, connectors),
		slots:    make([]*sessionController, connectors),
		txIDs:    make([]int, connectors),
	}
}

func (t *ConnectorTable) Size() int { return len(t.sessions) }

func (t *ConnectorTable) valid(connector int) bool {
	return connector >= 0 && connector < len(t.sessions)
}

// Session returns a copy of the connector's session entry.
func (t *ConnectorTable) Session(connector int) (ConnectorSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(connector) {
		return ConnectorSession{}, false
	}
	return t.sessions[connector], true
}

// claim reserves the slot for ctl. Returns false when already occupied.
func (t *ConnectorTable) claim(connector int, ctl *sessionController) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(connector) || t.slots[connector] != nil {
		return false
	}
	t.slots[connector] = ctl
	return true
}

// claimAny reserves the first free slot, if there is one.
func (t *ConnectorTable) claimAny(ctl *sessionController) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i] == nil {
			t.slots[i] = ctl
			return i, true
		}
	}
	return 0, false
}

// release clears the slot, but only for the controller that owns it.
func (t *ConnectorTable) release(connector int, ctl *sessionController) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.valid(connector) && t.slots[connector] == ctl {
		t.slots[connector] = nil
	}
}

func (t *ConnectorTable) occupied(connector int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.valid(connector) && t.slots[connector] != nil
}

// beginSession marks the connector charging with the given start snapshot.
func (t *ConnectorTable) beginSession(connector int, nowMs int64, meterWh uint64, soc int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(connector) {
		return
	}
	t.sessions[connector] = ConnectorSession{
		StartTimeMs:     nowMs,
		StartMeterWh:    meterWh,
		StartSoCPercent: soc,
		IsCharging:      true,
	}
}

// abortSession reverts a connector to its pre-session idle state after a
// failed transaction start.
func (t *ConnectorTable) abortSession(connector int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(connector) {
		return
	}
	prev := t.sessions[connector]
	t.sessions[connector] = ConnectorSession{
		StartMeterWh:    prev.StartMeterWh,
		StartSoCPercent: prev.StartSoCPercent,
	}
	t.txIDs[connector] = 0
}

// endSession records the final readings and reverts the connector to idle.
// The final values seed the next session's baseline.
func (t *ConnectorTable) endSession(connector int, finalMeterWh uint64, finalSoC int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(connector) {
		return
	}
	t.sessions[connector] = ConnectorSession{
		StartMeterWh:    finalMeterWh,
		StartSoCPercent: finalSoC,
	}
	t.txIDs[connector] = 0
}

func (t *ConnectorTable) setTransactionID(connector, txID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.valid(connector) {
		t.txIDs[connector] = txID
	}
}

func (t *ConnectorTable) transactionID(connector int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(connector) {
		return 0
	}
	return t.txIDs[connector]
}

// connectorForTransaction maps a running transaction id back to its
// connector, for remote stop requests.
func (t *ConnectorTable) connectorForTransaction(txID int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if txID == 0 {
		return 0, false
	}
	for i, id := range t.txIDs {
		if id == txID {
			return i, true
		}
	}
	return 0, false
}

// FirstCharging returns the lowest-numbered connector with an active
// session. This is the deterministic pick the button stop policy uses.
func (t *ConnectorTable) FirstCharging() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.sessions {
		if t.sessions[i].IsCharging {
			return i, true
		}
	}
	return 0, false
}
