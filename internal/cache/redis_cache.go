package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

var ErrMiss = errors.New("cache miss")

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type statusValue struct {
	PhoneNumber string     `json:"phoneNumber"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	MessageID   string     `json:"messageId,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

func statusKey(jobID string, contactID int64) string {
	return fmt.Sprintf("job:%s:contact:%d", jobID, contactID)
}

func (c *RedisCache) StoreStatus(ctx context.Context, jobID string, contact model.Contact) error {
	val := statusValue{
		PhoneNumber: contact.PhoneNumber,
		Status:      string(contact.Status),
		Error:       contact.Error,
		MessageID:   contact.MessageID,
	}
	if contact.Timestamp != nil {
		ts := contact.Timestamp.UTC()
		val.Timestamp = &ts
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, statusKey(jobID, contact.ID), b, c.ttl).Err()
}

// LoadStatus returns the cached state of one contact, or ErrMiss.
func (c *RedisCache) LoadStatus(ctx context.Context, jobID string, contactID int64) (model.Contact, error) {
	raw, err := c.rdb.Get(ctx, statusKey(jobID, contactID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Contact{}, ErrMiss
	}
	if err != nil {
		return model.Contact{}, err
	}

	var val statusValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return model.Contact{}, fmt.Errorf("decode cached status: %w", err)
	}
	return model.Contact{
		ID:          contactID,
		PhoneNumber: val.PhoneNumber,
		Status:      model.Status(val.Status),
		Error:       val.Error,
		MessageID:   val.MessageID,
		Timestamp:   val.Timestamp,
	}, nil
}
