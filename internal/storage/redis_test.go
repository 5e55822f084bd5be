package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisClient(mr.Addr(), "", 0, time.Hour, nil)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc, mr
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(addr, "", 0, time.Hour, nil)
	assert.True(t, errors.Is(err, models.ErrIO))
}

func TestStoreAlert_HistoryAndCounters(t *testing.T) {
	rc, mr := newTestClient(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, rc.StoreAlert(models.Alert{ID: 1, Timestamp: now.Add(-2 * time.Hour), Severity: models.SeverityHigh, Title: "stale"}))
	require.NoError(t, rc.StoreAlert(models.Alert{ID: 2, Timestamp: now, Severity: models.SeverityHigh, Title: "fresh"}))
	require.NoError(t, rc.StoreAlert(models.Alert{ID: 3, Timestamp: now, Severity: models.SeverityMedium, Title: "fresh too"}))

	members, err := mr.ZMembers(alertHistoryKey)
	require.NoError(t, err)
	assert.Len(t, members, 2, "entries older than retention are trimmed")

	recent, err := rc.GetRecentAlerts(time.Minute)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(2), recent[0].ID)

	counts, err := rc.GetAlertCounts(now)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["total_alerts"])
	assert.Equal(t, 1, counts["severity:HIGH"])
	assert.Equal(t, 1, counts["severity:MEDIUM"])
}

func TestStoreCorrelated(t *testing.T) {
	rc, _ := newTestClient(t)
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, rc.StoreCorrelated(models.CorrelatedAlert{
			ID:        id,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Severity:  models.SeverityHigh,
		}))
	}

	latest, err := rc.GetCorrelated(2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "c", latest[0].ID)
	assert.Equal(t, "b", latest[1].ID)

	all, err := rc.GetCorrelated(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPublish(t *testing.T) {
	rc, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rc.Subscribe(ctx)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, rc.PublishAlert(models.Alert{ID: 7, Title: "Encoded Data Detected"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, AlertChannel, msg.Channel)

	var got models.Alert
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, int64(7), got.ID)
}

func TestModelBlob(t *testing.T) {
	rc, _ := newTestClient(t)

	_, err := rc.LoadModelBlob()
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	require.NoError(t, rc.SaveModelBlob([]byte(`{"columns":[]}`)))
	blob, err := rc.LoadModelBlob()
	require.NoError(t, err)
	assert.Equal(t, `{"columns":[]}`, string(blob))
}
