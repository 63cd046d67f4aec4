// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import "time"

// startMonitorLocked starts the expiry monitor, replacing any running one.
func (m *Manager) startMonitorLocked() {
	m.stopMonitorLocked()
	if m.monitorInterval <= 0 {
		return
	}

	m.monitorGen++
	gen := m.monitorGen
	stop := make(chan struct{})
	m.monitorStop = stop

	m.monitorWG.Add(1)
	go func() {
		defer m.monitorWG.Done()
		ticker := time.NewTicker(m.monitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if m.checkExpiryFor(gen) {
					return
				}
			}
		}
	}()
}

// stopMonitorLocked signals the monitor to exit. It does not wait, since the
// monitor may be blocked on mu.
func (m *Manager) stopMonitorLocked() {
	if m.monitorStop != nil {
		close(m.monitorStop)
		m.monitorStop = nil
	}
	// Invalidate any tick already in flight.
	m.monitorGen++
}

// checkExpiryFor runs one monitor tick. A tick from a stopped monitor is
// ignored. It reports whether the monitor should exit.
func (m *Manager) checkExpiryFor(gen uint64) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.monitorGen {
		return true
	}
	if !m.session.IsAuthenticated {
		return false
	}
	if m.session.ExpiredAt(now) {
		m.expireLocked()
		return true
	}
	return false
}
