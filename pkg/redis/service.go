package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type KeyType string

const (
	// WEBHOOK_SEEN guards against duplicate webhook delivery (Twilio retries
	// are at-least-once). The identifier is the provider resource SID.
	WEBHOOK_SEEN KeyType = "callscribe_webhook_seen"
	// CONFERENCE_LEGS tracks the call SIDs of participant legs that joined a
	// named conference, so the orchestrator can redirect them later.
	CONFERENCE_LEGS KeyType = "callscribe_conference_legs"
)

var ErrKeyNotExist = redis.Nil

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ServiceInterface is the subset of Redis operations the call orchestrator needs.
type ServiceInterface interface {
	MarkOnce(ctx context.Context, keyType KeyType, identifier string, ttl time.Duration) (bool, error)
	RegisterLeg(ctx context.Context, conferenceName, callSID string, ttl time.Duration) error
	Legs(ctx context.Context, conferenceName string) ([]string, error)
	ClearLegs(ctx context.Context, conferenceName string) error
}

type RedisService struct {
	client *redis.Client
}

func NewRedisService(config *RedisConfig) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisService{client: client}, nil
}

// GenerateKey generates a Redis key with the given key type and identifier.
func (r *RedisService) GenerateKey(keyType KeyType, identifier string) string {
	return fmt.Sprintf("%s:%s", string(keyType), identifier)
}

// MarkOnce records that an identifier has been seen. It returns true the first
// time and false on every subsequent call until the TTL expires.
func (r *RedisService) MarkOnce(ctx context.Context, keyType KeyType, identifier string, ttl time.Duration) (bool, error) {
	key := r.GenerateKey(keyType, identifier)
	return r.client.SetNX(ctx, key, "1", ttl).Result()
}

// RegisterLeg adds a participant call SID to the conference membership set.
func (r *RedisService) RegisterLeg(ctx context.Context, conferenceName, callSID string, ttl time.Duration) error {
	key := r.GenerateKey(CONFERENCE_LEGS, conferenceName)
	if err := r.client.SAdd(ctx, key, callSID).Err(); err != nil {
		return fmt.Errorf("failed to register conference leg: %w", err)
	}
	return r.client.Expire(ctx, key, ttl).Err()
}

// Legs returns the participant call SIDs registered for a conference.
func (r *RedisService) Legs(ctx context.Context, conferenceName string) ([]string, error) {
	key := r.GenerateKey(CONFERENCE_LEGS, conferenceName)
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conference legs: %w", err)
	}
	return members, nil
}

// ClearLegs removes the conference membership set.
func (r *RedisService) ClearLegs(ctx context.Context, conferenceName string) error {
	return r.client.Del(ctx, r.GenerateKey(CONFERENCE_LEGS, conferenceName)).Err()
}

// GetValue gets a value from Redis by key.
func (r *RedisService) GetValue(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

// SetValue sets a value in Redis with TTL.
func (r *RedisService) SetValue(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// DelValue deletes a value from Redis by key.
func (r *RedisService) DelValue(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Close closes the underlying client.
func (r *RedisService) Close() error {
	return r.client.Close()
}
