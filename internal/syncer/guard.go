package syncer

import (
	"context"
	"time"
)

const guardKeyPrefix = "sync:guard:"

// acquireGuard takes the per-connector single-flight lock. The TTL bounds how
// long a crashed sync can block the connector; the release func is best-effort
// and the key expires on its own if the process dies.
func (o *Orchestrator) acquireGuard(ctx context.Context, connectorID string) (func(), error) {
	key := guardKeyPrefix + connectorID
	ok, err := o.guard.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), o.cfg.SyncGuardTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	release := func() {
		if err := o.guard.Del(context.Background(), key).Err(); err != nil {
			o.logger.Warnw("failed to release sync guard", "connector_id", connectorID, "err", err)
		}
	}
	return release, nil
}
