package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"FacePoseServer/logger"
)

const keyPrefix = "posechallenge:result:"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Redis stores records as JSON strings with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects and pings the server. A failed ping is returned so the
// caller can fall back to the memory store.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	logger.Log().Info("Connecting to Redis", zap.String("addr", opts.Addr))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &Redis{client: client, ttl: opts.TTL}, nil
}

func (r *Redis) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, keyPrefix+rec.SessionID, data, r.ttl).Err(); err != nil {
		logger.Log().Error("Error saving challenge result", zap.String("sessionID", rec.SessionID), zap.Error(err))
		return err
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, sessionID string) (Record, error) {
	val, err := r.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	} else if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", sessionID, err)
	}
	return rec, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
