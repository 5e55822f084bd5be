package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	alertHistoryKey      = "alerts:history"
	correlatedKey        = "correlated:alerts"
	correlatedHistoryKey = "correlated:history"
	modelBlobKey         = "model:blob"

	AlertChannel      = "alerts"
	CorrelatedChannel = "alerts:correlated"
)

type RedisClient struct {
	client    *redis.Client
	ctx       context.Context
	retention time.Duration
	logger    *zap.Logger
}

func NewRedisClient(addr string, password string, db int, retention time.Duration, logger *zap.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to Redis: %v", models.ErrIO, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisClient{
		client:    client,
		ctx:       ctx,
		retention: retention,
		logger:    logger,
	}, nil
}

// StoreAlert mirrors a rule alert into the time-ordered history and bumps
// the per-minute severity counters.
func (r *RedisClient) StoreAlert(alert models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	if err := r.client.ZAdd(r.ctx, alertHistoryKey, redis.Z{
		Score:  float64(alert.Timestamp.Unix()),
		Member: string(data),
	}).Err(); err != nil {
		return err
	}

	// Keep only the retention window
	cutoff := float64(time.Now().Add(-r.retention).Unix())
	r.client.ZRemRangeByScore(r.ctx, alertHistoryKey, "-inf", fmt.Sprintf("(%f", cutoff))

	r.updateCounters(alert)
	return nil
}

func counterKey(t time.Time) string {
	return fmt.Sprintf("metrics:%d", t.Truncate(time.Minute).Unix())
}

// updateCounters updates per-minute alert counters
func (r *RedisClient) updateCounters(alert models.Alert) {
	key := counterKey(alert.Timestamp)

	pipe := r.client.Pipeline()
	pipe.HIncrBy(r.ctx, key, "total_alerts", 1)
	pipe.HIncrBy(r.ctx, key, "severity:"+string(alert.Severity), 1)
	pipe.Expire(r.ctx, key, r.retention)

	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Warn("failed to update alert counters", zap.Error(err))
	}
}

// GetRecentAlerts retrieves alerts from the last span, oldest first
func (r *RedisClient) GetRecentAlerts(span time.Duration) ([]models.Alert, error) {
	since := time.Now().Add(-span).Unix()

	results, err := r.client.ZRangeByScore(r.ctx, alertHistoryKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	alerts := make([]models.Alert, 0, len(results))
	for _, result := range results {
		var alert models.Alert
		if err := json.Unmarshal([]byte(result), &alert); err != nil {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// GetAlertCounts returns the counters of the minute containing t
func (r *RedisClient) GetAlertCounts(t time.Time) (map[string]int, error) {
	data, err := r.client.HGetAll(r.ctx, counterKey(t)).Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(data))
	for field, value := range data {
		var n int
		if _, err := fmt.Sscan(value, &n); err != nil {
			continue
		}
		counts[field] = n
	}
	return counts, nil
}

// StoreCorrelated stores a correlated alert by ID and indexes it by time
func (r *RedisClient) StoreCorrelated(alert models.CorrelatedAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(r.ctx, correlatedKey, alert.ID, string(data))
	pipe.ZAdd(r.ctx, correlatedHistoryKey, redis.Z{
		Score:  float64(alert.Timestamp.UnixNano()),
		Member: alert.ID,
	})
	_, err = pipe.Exec(r.ctx)
	return err
}

// GetCorrelated returns up to limit of the newest correlated alerts,
// newest first. limit <= 0 returns all.
func (r *RedisClient) GetCorrelated(limit int) ([]models.CorrelatedAlert, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(r.ctx, correlatedHistoryKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.CorrelatedAlert{}, nil
	}

	values, err := r.client.HMGet(r.ctx, correlatedKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]models.CorrelatedAlert, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var alert models.CorrelatedAlert
		if err := json.Unmarshal([]byte(s), &alert); err != nil {
			continue
		}
		out = append(out, alert)
	}
	return out, nil
}

// PublishAlert publishes a rule alert to subscribers
func (r *RedisClient) PublishAlert(alert models.Alert) error {
	return r.publish(AlertChannel, alert)
}

// PublishCorrelated publishes a correlated alert to subscribers
func (r *RedisClient) PublishCorrelated(alert models.CorrelatedAlert) error {
	return r.publish(CorrelatedChannel, alert)
}

func (r *RedisClient) publish(channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Publish(r.ctx, channel, string(data)).Err()
}

// Subscribe returns a subscription to the alert channels
func (r *RedisClient) Subscribe(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, AlertChannel, CorrelatedChannel)
}

// SaveModelBlob stores a serialised model
func (r *RedisClient) SaveModelBlob(blob []byte) error {
	if err := r.client.Set(r.ctx, modelBlobKey, blob, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	return nil
}

// LoadModelBlob fetches the serialised model. A missing key is a
// configuration error.
func (r *RedisClient) LoadModelBlob() ([]byte, error) {
	blob, err := r.client.Get(r.ctx, modelBlobKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: no model blob in Redis", models.ErrConfiguration)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	return blob, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
