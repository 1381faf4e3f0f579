package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	refreshTokenKeyPrefix = "packmart:refresh:"
	draftKeyPrefix        = "packmart:draft:"
)

// RedisVault はRedisを使用したVault実装。
// 複数インスタンス構成やプロセス再起動後のセッション復元に使う。
type RedisVault struct {
	client *redis.Client
}

// NewRedisVault はRedisVaultを生成する。
func NewRedisVault(client *redis.Client) *RedisVault {
	return &RedisVault{client: client}
}

// OpenRedisVault はURLからRedisに接続し、疎通を確認してRedisVaultを返す。
func OpenRedisVault(ctx context.Context, redisURL string) (*RedisVault, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisVault{client: client}, nil
}

// Close はRedis接続を閉じる。
func (v *RedisVault) Close() error {
	return v.client.Close()
}

// SaveRefreshToken はクライアントのリフレッシュトークンを保存する。
func (v *RedisVault) SaveRefreshToken(ctx context.Context, clientID, token string, ttl time.Duration) error {
	if err := v.client.Set(ctx, refreshTokenKeyPrefix+clientID, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// RefreshToken はクライアントのリフレッシュトークンを返す。
func (v *RedisVault) RefreshToken(ctx context.Context, clientID string) (string, error) {
	token, err := v.client.Get(ctx, refreshTokenKeyPrefix+clientID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get refresh token: %w", err)
	}
	return token, nil
}

// DeleteRefreshToken はクライアントのリフレッシュトークンを削除する。
func (v *RedisVault) DeleteRefreshToken(ctx context.Context, clientID string) error {
	if err := v.client.Del(ctx, refreshTokenKeyPrefix+clientID).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// SaveDraft はプロフィール下書きをJSONで保存する。
func (v *RedisVault) SaveDraft(ctx context.Context, identityID string, draft ProfileDraft, ttl time.Duration) error {
	b, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to encode profile draft: %w", err)
	}
	if err := v.client.Set(ctx, draftKeyPrefix+identityID, b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save profile draft: %w", err)
	}
	return nil
}

// TakeDraft はプロフィール下書きを取り出して削除する。
func (v *RedisVault) TakeDraft(ctx context.Context, identityID string) (*ProfileDraft, error) {
	b, err := v.client.GetDel(ctx, draftKeyPrefix+identityID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take profile draft: %w", err)
	}

	var draft ProfileDraft
	if err := json.Unmarshal(b, &draft); err != nil {
		return nil, fmt.Errorf("failed to decode profile draft: %w", err)
	}
	return &draft, nil
}
