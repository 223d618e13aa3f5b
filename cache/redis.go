package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis is a Store shared between processes. Series are hashes keyed by the
// unix-nanosecond timestamp; documents are plain string values.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *logrus.Logger
	initMu sync.Mutex
}

// NewRedis uses prefix for every key; a zero ttl keeps documents forever.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *Redis) seriesKey(key string) string { return r.prefix + "series:" + key }
func (r *Redis) docKey(key string) string    { return r.prefix + "doc:" + key }

func (r *Redis) Series(ctx context.Context, key string) (*Series, error) {
	fields, err := r.client.HGetAll(ctx, r.seriesKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get series from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	points := make([]Point, 0, len(fields))
	for field, raw := range fields {
		nanos, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			r.logger.WithFields(logrus.Fields{"key": key, "field": field}).Warn("Skipping malformed series field")
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			r.logger.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("Skipping malformed series value")
			continue
		}
		points = append(points, Point{At: time.Unix(0, nanos).UTC(), Value: v})
	}
	return NewSeries(points...), nil
}

func (r *Redis) Append(ctx context.Context, key string, at time.Time, value float64) error {
	field := strconv.FormatInt(at.UnixNano(), 10)
	if err := r.client.HSet(ctx, r.seriesKey(key), field, strconv.FormatFloat(value, 'g', -1, 64)).Err(); err != nil {
		return fmt.Errorf("failed to append point to redis: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, key string, dst any) error {
	data, err := r.client.Get(ctx, r.docKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get document from redis: %w", err)
	}
	return decode(data, dst)
}

func (r *Redis) Save(ctx context.Context, key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.docKey(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save document to redis: %w", err)
	}
	return nil
}

// GetOrInit serialises seeding within the process and uses SETNX so that
// concurrent processes agree on a single seeded value.
func (r *Redis) GetOrInit(ctx context.Context, key string, dst any, init func() (any, error)) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	err := r.Load(ctx, key, dst)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	v, err := init()
	if err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return err
	}
	seeded, err := r.client.SetNX(ctx, r.docKey(key), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to seed document in redis: %w", err)
	}
	if seeded {
		r.logger.WithField("key", key).Info("Seeded missing document")
	}
	return r.Load(ctx, key, dst)
}
