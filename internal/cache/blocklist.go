package cache

import (
	"context"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

// BlockIPTTL is how long a blocked IP stays on the ephemeral block list.
const BlockIPTTL = 24 * time.Hour

// BlockIP puts an IP on an instance's block list.
func BlockIP(ctx context.Context, c domain.Cache, instanceID, ip, reason string) error {
	if ip == "" {
		return nil
	}
	if reason == "" {
		reason = "blocked"
	}
	return c.Set(ctx, instanceID, domain.CacheKeyBlockedIP+ip, []byte(reason), BlockIPTTL)
}

// IsIPBlocked reports whether an IP is currently blocked for an instance.
func IsIPBlocked(ctx context.Context, c domain.Cache, instanceID, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	val, err := c.Get(ctx, instanceID, domain.CacheKeyBlockedIP+ip)
	if err != nil {
		return false, err
	}
	return val != nil, nil
}

// AllowAlert consumes one slot of an instance's hourly alert allowance and reports
// whether the alert may be sent.
func AllowAlert(ctx context.Context, c domain.Cache, instanceID string, limit int64, window time.Duration) (bool, error) {
	n, err := c.IncrementCounter(ctx, instanceID, domain.CacheKeyAlertCounter, window)
	if err != nil {
		return false, err
	}
	return n <= limit, nil
}
