package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

const redisKeyPrefix = "spotidal:token:"

// RedisStore keeps tokens as JSON values under spotidal:token:<service>.
type RedisStore struct {
	client *redis.Client
}

type redisToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// NewRedisStore connects to cfg.RedisAddr and pings it once.
func NewRedisStore(cfg shared.TokenStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client. Close closes it.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(service string) string {
	return redisKeyPrefix + service
}

func (s *RedisStore) Load(ctx context.Context, service string) (*oauth2.Token, error) {
	data, err := s.client.Get(ctx, redisKey(service)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", shared.ErrTokenNotFound, service)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s token: %w", service, err)
	}

	var rt redisToken
	if err := json.Unmarshal(data, &rt); err != nil {
		return nil, fmt.Errorf("failed to decode %s token: %w", service, err)
	}
	return &oauth2.Token{
		AccessToken:  rt.AccessToken,
		RefreshToken: rt.RefreshToken,
		TokenType:    rt.TokenType,
		Expiry:       rt.Expiry,
	}, nil
}

func (s *RedisStore) Save(ctx context.Context, service string, tok *oauth2.Token) error {
	data, err := json.Marshal(redisToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s token: %w", service, err)
	}
	if err := s.client.Set(ctx, redisKey(service), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store %s token: %w", service, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, service string) error {
	return s.client.Del(ctx, redisKey(service)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
