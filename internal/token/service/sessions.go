package service

import (
	"context"
	"time"

	"cotai-security/backend/internal/device"
)

// SessionView is the listing shape of one active session.
type SessionView struct {
	SessionID     string    `json:"session_id"`
	DeviceID      string    `json:"device_id"`
	Browser       string    `json:"browser"`
	OS            string    `json:"os"`
	Device        string    `json:"device"`
	IPAddress     string    `json:"ip_address"`
	LocationClass string    `json:"location"`
	CreatedAt     time.Time `json:"created_at"`
	LastUsedAt    time.Time `json:"last_used_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	IsCurrent     bool      `json:"is_current"`
}

// ListActiveSessions returns the unexpired active sessions of accountID, most recently used first.
// currentSessionID marks the caller's own session.
func (m *Manager) ListActiveSessions(ctx context.Context, accountID, currentSessionID string) ([]SessionView, error) {
	active, err := m.sessions.ListActiveByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := m.nowF()
	views := make([]SessionView, 0, len(active))
	for _, s := range active {
		if !s.Live(now) {
			continue
		}
		views = append(views, SessionView{
			SessionID:     s.ID,
			DeviceID:      device.ShortID(s.DeviceFingerprint),
			Browser:       s.Device.Browser,
			OS:            s.Device.OS,
			Device:        s.Device.Device,
			IPAddress:     s.IPAddress,
			LocationClass: device.LocationClass(s.IPAddress),
			CreatedAt:     s.CreatedAt,
			LastUsedAt:    s.LastUsedAt,
			ExpiresAt:     s.ExpiresAt,
			IsCurrent:     s.ID == currentSessionID,
		})
	}
	return views, nil
}
