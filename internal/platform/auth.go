package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AuthUser は認証基盤のユーザー（Identity）を表す。
type AuthUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthSession はサインイン結果のトークン一式を表す。
type AuthSession struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	User         AuthUser `json:"user"`
}

// Expiry はアクセストークンの有効期限を返す。
// expires_atがない場合はexpires_inとnowから算出し、どちらもない場合はJWTのexpを使う。
func (s *AuthSession) Expiry(now time.Time) time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	if s.ExpiresIn > 0 {
		return now.Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	if claims, err := ParseAccessToken(s.AccessToken); err == nil && !claims.Expiry.IsZero() {
		return claims.Expiry
	}
	return time.Time{}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp はメールアドレスとパスワードでIdentityを作成する。
// メール確認が必要な設定の場合はセッションを返さない（nil）。
func (c *Client) SignUp(ctx context.Context, email, password string) (*AuthUser, *AuthSession, error) {
	resp, err := c.doJSON(ctx, "auth.signup", http.MethodPost, c.authURL+"/signup",
		credentials{Email: email, Password: password}, nil, "")
	if err != nil {
		return nil, nil, classifyAuthError(err)
	}

	// 自動確認時はセッション形式、確認待ちの場合はユーザー形式で返る
	var body struct {
		AuthSession
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, nil, fmt.Errorf("decode signup response: %w", err)
	}

	if body.AccessToken != "" {
		sess := body.AuthSession
		return &sess.User, &sess, nil
	}
	if body.ID == "" {
		return nil, nil, fmt.Errorf("signup response contains no user")
	}
	return &AuthUser{ID: body.ID, Email: body.Email, CreatedAt: body.CreatedAt}, nil, nil
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
// 認証情報が誤っている場合はErrInvalidCredentialsをラップしたエラーを返す。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error) {
	return c.token(ctx, "auth.signin", "password", credentials{Email: email, Password: password})
}

// RefreshSession はリフレッシュトークンで新しいトークン一式を取得する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*AuthSession, error) {
	return c.token(ctx, "auth.refresh", "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) token(ctx context.Context, op, grantType string, payload any) (*AuthSession, error) {
	resp, err := c.doJSON(ctx, op, http.MethodPost, c.authURL+"/token?grant_type="+grantType, payload, nil, "")
	if err != nil {
		return nil, classifyAuthError(err)
	}

	var sess AuthSession
	if err := json.Unmarshal(resp.Body, &sess); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	if sess.AccessToken == "" {
		return nil, fmt.Errorf("%s response contains no access token", op)
	}
	return &sess, nil
}

// SignOut はアクセストークンに紐づくセッションを失効させる。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, "auth.signout", http.MethodPost, c.authURL+"/logout", nil, nil, accessToken)
	return err
}

// GetUser はアクセストークンの持ち主のユーザー情報を取得する。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*AuthUser, error) {
	resp, err := c.do(ctx, "auth.user", http.MethodGet, c.authURL+"/user", nil, nil, accessToken)
	if err != nil {
		return nil, err
	}

	var user AuthUser
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}
	return &user, nil
}

// Health は認証サービスの疎通を確認する。
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, "auth.health", http.MethodGet, c.authURL+"/health", nil, nil, "")
	return err
}
