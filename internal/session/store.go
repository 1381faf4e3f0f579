// Package session はブラウザクライアントごとの認証セッションを管理する。
// Storeはクライアント単位のセッションコンテキストで、各ビューにはリクエストコンテキスト経由で注入される。
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
	"github.com/hitoshi/packmart/internal/repository"
	"github.com/hitoshi/packmart/internal/validation"
)

// Event は認証状態の変化の種類を表す。
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
	EventSignedOut      Event = "SIGNED_OUT"
)

// ErrSuperseded はプロフィール取得中に新しい認証イベントが発生し、結果が破棄されたことを示す。
var ErrSuperseded = errors.New("auth event superseded by a newer event")

// AuthClient は認証基盤の操作インターフェース。
// platform.Clientの部分集合として定義する。
type AuthClient interface {
	SignUp(ctx context.Context, email, password string) (*platform.AuthUser, *platform.AuthSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*platform.AuthSession, error)
	RefreshSession(ctx context.Context, refreshToken string) (*platform.AuthSession, error)
	SignOut(ctx context.Context, accessToken string) error
}

// AuthObserver は認証操作の結果を記録する。
type AuthObserver interface {
	ObserveAuth(op, outcome string)
}

// Listener は認証状態の変化を受け取る。ログアウト時はnilが渡される。
// Listener内からStoreの状態を変更する操作を呼び出してはならない。
type Listener func(*model.Session)

// Deps はStoreが使用する依存関係。
type Deps struct {
	Auth     AuthClient
	Profiles repository.ProfileRepository
	Vault    Vault
	Observer AuthObserver

	// RefreshTokenTTL はVaultに保存するリフレッシュトークンの保持期間。
	RefreshTokenTTL time.Duration
	// DraftTTL はプロフィール下書きの保持期間。
	DraftTTL time.Duration

	// OnTokenRefreshed はアクセストークンの更新後に呼ばれる。
	// 開いているリアルタイム購読へ新しいトークンを渡すために使う。
	OnTokenRefreshed func(clientID, accessToken string)
}

const (
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	defaultDraftTTL        = 7 * 24 * time.Hour
)

// SignupResult はサインアップの結果。
// メール確認が必要な場合はSessionがnilでNeedsVerificationがtrueになる。
type SignupResult struct {
	Session           *model.Session
	NeedsVerification bool
}

// Store は1クライアント分の認証セッションを保持する。
// 状態の更新はHandleAuthEventに一本化されている。
type Store struct {
	clientID atomic.Value // string
	deps     Deps
	now      func() time.Time

	mu         sync.Mutex
	session    *model.Session
	tokens     *platform.AuthSession
	generation uint64
	listeners  map[int]Listener
	nextID     int
	lastSeen   time.Time

	// notifyMu はListenerへの通知順序を状態変更の順序と一致させる。
	// muより先に取得する。
	notifyMu sync.Mutex

	restoreMu sync.Mutex
	restored  bool
}

// NewStore はStoreを生成する。
func NewStore(clientID string, deps Deps) *Store {
	if deps.Vault == nil {
		deps.Vault = NewMemoryVault()
	}
	if deps.RefreshTokenTTL <= 0 {
		deps.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if deps.DraftTTL <= 0 {
		deps.DraftTTL = defaultDraftTTL
	}
	s := &Store{
		deps:      deps,
		now:       time.Now,
		listeners: make(map[int]Listener),
		lastSeen:  time.Now(),
	}
	s.clientID.Store(clientID)
	return s
}

// ClientID はStoreが属するクライアントのIDを返す。
// ログインなどでIDが振り直された後は新しいIDを返す。
func (s *Store) ClientID() string {
	return s.clientID.Load().(string)
}

// rebind はStoreを新しいクライアントIDに付け替える。Manager.Rotateからのみ呼ぶ。
func (s *Store) rebind(clientID string) {
	s.clientID.Store(clientID)
}

// Current は現在のセッションを返す。
// 未ログイン、またはプロフィール取得中はnilを返す。Identityだけのセッションは返さない。
func (s *Store) Current() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// ProfilePending はIdentityは認証済みだがProfileが未作成の状態かどうかを返す。
// この状態ではCompleteProfileでプロフィールを作成できる。
func (s *Store) ProfilePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens != nil && s.session == nil
}

// Context はアクセストークンを格納したコンテキストを返す。
// プラットフォームの行レベルセキュリティはこのトークンで評価される。
func (s *Store) Context(ctx context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		return ctx
	}
	return platform.ContextWithAccessToken(ctx, s.tokens.AccessToken)
}

// Subscribe は認証状態の変化を購読する。戻り値の関数で購読を解除する。
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Touch は最終アクセス日時を更新する。
func (s *Store) Touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

// LastSeen は最終アクセス日時を返す。
func (s *Store) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// NeedsRefresh はアクセストークンの期限がwindow以内に迫っているかを判定する。
func (s *Store) NeedsRefresh(now time.Time, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		return false
	}
	expiry := s.tokens.Expiry(now)
	if expiry.IsZero() {
		return false
	}
	return !now.Add(window).Before(expiry)
}

// Login はメールアドレスとパスワードでログインする。
// 認証情報の誤りはAuthErrorとして返し、リトライしない。
func (s *Store) Login(ctx context.Context, email, password string) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if err := validation.Login(validation.LoginInput{Email: email, Password: password}); err != nil {
		return nil, err
	}

	tokens, err := s.deps.Auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, platform.ErrInvalidCredentials) {
			s.observe("login", "invalid_credentials")
			return nil, &model.AuthError{Reason: model.AuthReasonInvalidCredentials, Err: err}
		}
		s.observe("login", "error")
		return nil, &model.RemoteQueryError{Op: "auth.signin", Err: err}
	}

	sess, err := s.HandleAuthEvent(ctx, EventSignedIn, tokens)
	if err != nil {
		s.observe("login", "profile_error")
		return nil, err
	}
	s.observe("login", "success")
	slog.Info("user logged in",
		slog.String("client_id", s.ClientID()),
		slog.String("user_id", sess.UserID()),
		slog.String("role", string(sess.Role())),
	)
	return sess, nil
}

// Signup はIdentityを作成し、続けてProfileを登録する。
// Identity作成後のProfile登録に失敗した場合はProfileCreationErrorを返し、
// 入力内容を下書きとして保存して次回ログイン時に補完する。
func (s *Store) Signup(ctx context.Context, in validation.SignupInput) (*SignupResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	if err := validation.Signup(in); err != nil {
		return nil, err
	}

	user, tokens, err := s.deps.Auth.SignUp(ctx, in.Email, in.Password)
	if err != nil {
		if errors.Is(err, platform.ErrUserAlreadyExists) {
			s.observe("signup", "email_taken")
			return nil, &model.AuthError{Reason: model.AuthReasonEmailTaken, Err: err}
		}
		s.observe("signup", "error")
		return nil, &model.RemoteQueryError{Op: "auth.signup", Err: err}
	}

	profile := &model.Profile{
		ID:          user.ID,
		Email:       in.Email,
		Role:        model.Role(in.Role),
		CompanyName: in.CompanyName,
	}

	draft := ProfileDraft{Email: in.Email, Role: profile.Role, CompanyName: profile.CompanyName}

	// メール確認待ちではアクセストークンがなく、行レベルセキュリティを通せない。
	// 下書きを保存し、確認後の初回ログインでProfileを作成する。
	if tokens == nil {
		if err := s.deps.Vault.SaveDraft(ctx, user.ID, draft, s.deps.DraftTTL); err != nil {
			slog.Error("failed to save profile draft",
				slog.String("identity_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
		s.observe("signup", "verification_pending")
		return &SignupResult{NeedsVerification: true}, nil
	}

	pctx := platform.ContextWithAccessToken(ctx, tokens.AccessToken)
	if err := s.deps.Profiles.Create(pctx, profile); err != nil {
		if derr := s.deps.Vault.SaveDraft(ctx, user.ID, draft, s.deps.DraftTTL); derr != nil {
			slog.Error("failed to save profile draft",
				slog.String("identity_id", user.ID),
				slog.String("error", derr.Error()),
			)
		}
		slog.Error("profile creation failed after identity was created",
			slog.String("identity_id", user.ID),
			slog.String("error", err.Error()),
		)
		s.observe("signup", "profile_creation_failed")
		return nil, &model.ProfileCreationError{IdentityID: user.ID, Err: err}
	}

	sess, err := s.HandleAuthEvent(ctx, EventSignedIn, tokens)
	if err != nil {
		return nil, err
	}
	s.observe("signup", "success")
	slog.Info("user signed up",
		slog.String("client_id", s.ClientID()),
		slog.String("user_id", sess.UserID()),
		slog.String("role", string(sess.Role())),
	)
	return &SignupResult{Session: sess}, nil
}

// Logout はセッションを無条件に破棄する。冪等。
// 認証基盤へのサインアウト失敗はログに記録するのみ。
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	tokens := s.tokens
	s.mu.Unlock()

	s.HandleAuthEvent(ctx, EventSignedOut, nil)

	if tokens == nil {
		return
	}
	if err := s.deps.Auth.SignOut(ctx, tokens.AccessToken); err != nil {
		slog.Warn("remote sign-out failed",
			slog.String("client_id", s.ClientID()),
			slog.String("error", err.Error()),
		)
	}
	s.observe("logout", "success")
}

// Refresh はリフレッシュトークンでアクセストークンを更新する。
// 更新に失敗した場合はログアウト状態になる。
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	tokens := s.tokens
	s.mu.Unlock()
	if tokens == nil {
		return nil
	}

	next, err := s.deps.Auth.RefreshSession(ctx, tokens.RefreshToken)
	if err != nil {
		s.observe("refresh", "error")
		s.HandleAuthEvent(ctx, EventSignedOut, nil)
		return &model.AuthError{Reason: model.AuthReasonSessionExpired, Err: err}
	}

	if _, err := s.HandleAuthEvent(ctx, EventTokenRefreshed, next); err != nil {
		return err
	}
	s.observe("refresh", "success")
	return nil
}

// Restore は保存済みのリフレッシュトークンからセッションを復元する。
// 一度だけ実行され、復元できない場合はログアウト状態のままになる。
func (s *Store) Restore(ctx context.Context) *model.Session {
	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()
	if s.restored {
		return s.Current()
	}
	s.restored = true

	if sess := s.Current(); sess != nil {
		return sess
	}

	refreshToken, err := s.deps.Vault.RefreshToken(ctx, s.ClientID())
	if err != nil {
		slog.Warn("failed to read refresh token",
			slog.String("client_id", s.ClientID()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if refreshToken == "" {
		return nil
	}

	tokens, err := s.deps.Auth.RefreshSession(ctx, refreshToken)
	if err != nil {
		s.observe("restore", "error")
		slog.Info("session restore failed",
			slog.String("client_id", s.ClientID()),
			slog.String("error", err.Error()),
		)
		if derr := s.deps.Vault.DeleteRefreshToken(ctx, s.ClientID()); derr != nil {
			slog.Warn("failed to delete refresh token", slog.String("error", derr.Error()))
		}
		return nil
	}

	sess, err := s.HandleAuthEvent(ctx, EventSignedIn, tokens)
	if err != nil {
		slog.Info("restored identity has no usable profile",
			slog.String("client_id", s.ClientID()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	s.observe("restore", "success")
	return sess
}

// CompleteProfile はProfileを持たないIdentityのプロフィールを作成する。
// サインアップ時のProfile登録失敗からの修復に使う。
func (s *Store) CompleteProfile(ctx context.Context, role, companyName string) (*model.Session, error) {
	companyName = strings.TrimSpace(companyName)
	if err := validation.Profile(validation.ProfileInput{Role: role, CompanyName: companyName}); err != nil {
		return nil, err
	}

	s.mu.Lock()
	tokens := s.tokens
	current := s.session
	s.mu.Unlock()

	if tokens == nil {
		return nil, &model.AuthError{Reason: model.AuthReasonNotAuthenticated}
	}
	if current != nil {
		return current, nil
	}

	profile := &model.Profile{
		ID:          tokens.User.ID,
		Email:       tokens.User.Email,
		Role:        model.Role(role),
		CompanyName: companyName,
	}
	pctx := platform.ContextWithAccessToken(ctx, tokens.AccessToken)
	if err := s.deps.Profiles.Create(pctx, profile); err != nil {
		return nil, &model.RemoteQueryError{Op: "profile.create", Err: err}
	}

	return s.HandleAuthEvent(ctx, EventUserUpdated, tokens)
}

// UpdateCompanyName は会社名を更新する。
func (s *Store) UpdateCompanyName(ctx context.Context, companyName string) (*model.Session, error) {
	companyName = strings.TrimSpace(companyName)
	if err := validation.CompanyName(validation.CompanyNameInput{CompanyName: companyName}); err != nil {
		return nil, err
	}

	s.mu.Lock()
	tokens := s.tokens
	current := s.session
	s.mu.Unlock()

	if tokens == nil || current == nil {
		return nil, &model.AuthError{Reason: model.AuthReasonNotAuthenticated}
	}

	pctx := platform.ContextWithAccessToken(ctx, tokens.AccessToken)
	if _, err := s.deps.Profiles.UpdateCompanyName(pctx, current.UserID(), companyName); err != nil {
		return nil, &model.RemoteQueryError{Op: "profile.update", Err: err}
	}

	return s.HandleAuthEvent(ctx, EventUserUpdated, tokens)
}

// HandleAuthEvent は認証状態の変化を反映する唯一の経路。
// SIGNED_OUT以外ではProfileを再取得してから新しいセッションを公開し、全Listenerに通知する。
// 取得中により新しいイベントが発生した場合、古い取得結果は破棄してErrSupersededを返す。
func (s *Store) HandleAuthEvent(ctx context.Context, event Event, tokens *platform.AuthSession) (*model.Session, error) {
	if event == EventSignedOut || tokens == nil {
		s.signOut(ctx)
		return nil, nil
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	// 同一Identityのトークン更新中は既存のIdentity+Profileの組を公開し続ける
	if s.session == nil || s.session.Identity.ID != tokens.User.ID {
		s.session = nil
	}
	s.tokens = tokens
	s.mu.Unlock()

	profile, err := s.loadProfile(ctx, tokens)

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		slog.Debug("discarded stale profile fetch",
			slog.String("client_id", s.ClientID()),
			slog.String("event", string(event)),
		)
		return nil, ErrSuperseded
	}

	if err != nil {
		s.session = nil
		if !errors.Is(err, model.ErrProfileRequired) {
			// プロフィールを取得できない場合はログアウト扱い
			s.tokens = nil
		}
		listeners := s.snapshotListenersLocked()
		s.mu.Unlock()
		notify(listeners, nil)

		if errors.Is(err, model.ErrProfileRequired) {
			return nil, err
		}
		s.forgetRefreshToken(ctx)
		return nil, &model.RemoteQueryError{Op: "profile.fetch", Err: err}
	}

	sess := &model.Session{
		Identity: model.Identity{
			ID:        tokens.User.ID,
			Email:     tokens.User.Email,
			CreatedAt: tokens.User.CreatedAt,
		},
		Profile:   *profile,
		ExpiresAt: tokens.Expiry(s.now()),
	}
	s.session = sess
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()
	notify(listeners, sess)

	if tokens.RefreshToken != "" {
		if err := s.deps.Vault.SaveRefreshToken(ctx, s.ClientID(), tokens.RefreshToken, s.deps.RefreshTokenTTL); err != nil {
			slog.Warn("failed to save refresh token",
				slog.String("client_id", s.ClientID()),
				slog.String("error", err.Error()),
			)
		}
	}

	if event == EventTokenRefreshed && s.deps.OnTokenRefreshed != nil {
		s.deps.OnTokenRefreshed(s.ClientID(), tokens.AccessToken)
	}

	slog.Debug("auth event handled",
		slog.String("client_id", s.ClientID()),
		slog.String("event", string(event)),
		slog.String("user_id", sess.UserID()),
	)
	return sess, nil
}

// signOut はセッションとトークンを破棄し、状態が変化した場合のみ通知する。
func (s *Store) signOut(ctx context.Context) {
	s.notifyMu.Lock()
	s.mu.Lock()
	s.generation++
	changed := s.session != nil || s.tokens != nil
	s.session = nil
	s.tokens = nil
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()
	if changed {
		notify(listeners, nil)
	}
	s.notifyMu.Unlock()

	s.forgetRefreshToken(ctx)
}

func (s *Store) forgetRefreshToken(ctx context.Context) {
	if err := s.deps.Vault.DeleteRefreshToken(ctx, s.ClientID()); err != nil {
		slog.Warn("failed to delete refresh token",
			slog.String("client_id", s.ClientID()),
			slog.String("error", err.Error()),
		)
	}
}

// loadProfile はIdentityのProfileを取得する。
// Profileがなくサインアップ時の下書きがある場合は、下書きからProfileを作成する。
func (s *Store) loadProfile(ctx context.Context, tokens *platform.AuthSession) (*model.Profile, error) {
	pctx := platform.ContextWithAccessToken(ctx, tokens.AccessToken)
	identityID := tokens.User.ID

	profile, err := s.deps.Profiles.FindByID(pctx, identityID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}

	draft, err := s.deps.Vault.TakeDraft(ctx, identityID)
	if err != nil {
		slog.Warn("failed to read profile draft",
			slog.String("identity_id", identityID),
			slog.String("error", err.Error()),
		)
	}
	if draft == nil {
		return nil, model.ErrProfileRequired
	}

	email := draft.Email
	if tokens.User.Email != "" {
		email = tokens.User.Email
	}
	profile = &model.Profile{
		ID:          identityID,
		Email:       email,
		Role:        draft.Role,
		CompanyName: draft.CompanyName,
	}
	if err := s.deps.Profiles.Create(pctx, profile); err != nil {
		if serr := s.deps.Vault.SaveDraft(ctx, identityID, *draft, s.deps.DraftTTL); serr != nil {
			slog.Error("failed to restore profile draft",
				slog.String("identity_id", identityID),
				slog.String("error", serr.Error()),
			)
		}
		return nil, err
	}

	slog.Info("profile completed from signup draft",
		slog.String("identity_id", identityID),
		slog.String("role", string(profile.Role)),
	)
	return profile, nil
}

func (s *Store) snapshotListenersLocked() []Listener {
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

func notify(listeners []Listener, sess *model.Session) {
	for _, l := range listeners {
		l(sess)
	}
}

func (s *Store) observe(op, outcome string) {
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveAuth(op, outcome)
	}
}
