// Package platform はホスト型バックエンド（データAPI・認証・ストレージ・リアルタイム）
// へのリモートデータクライアントを提供する。
//
// データAPIはPostgREST互換、認証はGoTrue互換、リアルタイムはPhoenixチャネル互換の
// プロトコルを前提とする。
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Observer はプラットフォーム呼び出しの計測を受け取るインターフェース。
// metrics.Collectorが実装する。
type Observer interface {
	ObservePlatformRequest(op string, statusCode int, duration time.Duration)
}

// Config はClientの設定。
type Config struct {
	URL        string
	AnonKey    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Observer   Observer
	Logger     *slog.Logger
}

// Client はプラットフォームへのHTTPクライアント。
// 複数goroutineから同時に使用できる。
type Client struct {
	baseURL    string
	restURL    string
	authURL    string
	storageURL string
	anonKey    string

	httpClient *http.Client
	observer   Observer
	logger     *slog.Logger

	realtimeOnce sync.Once
	realtime     *Realtime
}

// New はClientを生成する。URLとAnonKeyは必須。
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("platform URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("platform anon key is required")
	}

	baseURL := strings.TrimRight(cfg.URL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid platform URL: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		restURL:    baseURL + "/rest/v1",
		authURL:    baseURL + "/auth/v1",
		storageURL: baseURL + "/storage/v1",
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
		observer:   cfg.Observer,
		logger:     logger,
	}, nil
}

// tokenContextKey はRLS用のアクセストークンをコンテキストに格納するためのキー。
type tokenContextKey struct{}

// ContextWithAccessToken はユーザーのアクセストークンをコンテキストに格納する。
// データAPIとストレージへのリクエストはこのトークンで行われる。
func ContextWithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// AccessTokenFromContext はコンテキストに格納されたアクセストークンを返す。
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey{}).(string)
	return token
}

// response はプラットフォームからのHTTPレスポンスを表す。
type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// do はHTTPリクエストを実行する。
// apikeyヘッダーは常に付与し、Authorizationはトークン指定があればそのトークン、
// なければAnonKeyを使用する。4xx/5xxは*Errorとして返す。
func (c *Client) do(ctx context.Context, op, method, rawURL string, body io.Reader, headers map[string]string, token string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("apikey", c.anonKey)
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	c.observe(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s read response: %w", op, err)
	}

	if resp.StatusCode >= 400 {
		perr := parseError(respBody, resp.StatusCode)
		c.logger.Debug("platform request failed",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("error", perr.Error()),
		)
		return nil, perr
	}

	return &response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// doJSON はvをJSONにエンコードしてリクエストを実行する。
func (c *Client) doJSON(ctx context.Context, op, method, rawURL string, v any, headers map[string]string, token string) (*response, error) {
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, op, method, rawURL, body, headers, token)
}

func (c *Client) observe(op string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObservePlatformRequest(op, status, d)
	}
}
