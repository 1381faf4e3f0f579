// Package refresh はログイン中クライアントのアクセストークンを
// 期限切れ前にバックグラウンドで更新するスケジューラを提供する。
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/session"
)

// 更新結果のメトリクスラベル
const (
	OutcomeSuccess    = "success"
	OutcomeExpired    = "expired"
	OutcomeSuperseded = "superseded"
	OutcomeError      = "error"
)

// Target はトークン更新の対象。session.Storeが実装する。
type Target interface {
	ClientID() string
	Refresh(ctx context.Context) error
}

// Source は期限が迫っている更新対象を返す。
type Source interface {
	Due(window time.Duration) []Target
}

// Recorder は更新結果を記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordTokenRefresh(outcome string)
}

// managerSource はsession.ManagerをSourceに適合させる。
type managerSource struct {
	m *session.Manager
}

// ManagerSource はsession.Managerが保持するStoreを更新対象とするSourceを返す。
func ManagerSource(m *session.Manager) Source {
	return managerSource{m: m}
}

func (s managerSource) Due(window time.Duration) []Target {
	stores := s.m.DueForRefresh(window)
	targets := make([]Target, len(stores))
	for i, store := range stores {
		targets[i] = store
	}
	return targets
}

// Scheduler はトークン更新のスケジューリングと並列制御を行う。
// 一定間隔で期限がwindow以内に迫ったクライアントを取得し、
// semaphoreパターンで最大並列数を制御しながら更新する。
type Scheduler struct {
	source         Source
	recorder       Recorder
	logger         *slog.Logger
	window         time.Duration
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
// recorderはnilでもよい。
func NewScheduler(source Source, recorder Recorder, logger *slog.Logger, window time.Duration, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:         source,
		recorder:       recorder,
		logger:         logger,
		window:         window,
		maxConcurrency: maxConcurrency,
	}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("トークン更新スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("window", s.window),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("トークン更新スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は更新対象を1回取得し、並列で更新する。更新を試みた件数を返す。
// 更新に失敗したクライアントはStore側でログアウト状態になる。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	targets := s.source.Due(s.window)
	if len(targets) == 0 {
		return 0
	}

	start := time.Now()
	s.logger.Debug("トークン更新サイクルを開始します",
		slog.Int("client_count", len(targets)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(t Target) {
			defer wg.Done()
			defer func() { <-sem }()
			s.refresh(ctx, t)
		}(target)
	}

	wg.Wait()

	s.logger.Info("トークン更新サイクルが完了しました",
		slog.Int("client_count", len(targets)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return len(targets)
}

func (s *Scheduler) refresh(ctx context.Context, t Target) {
	err := t.Refresh(ctx)
	outcome := classify(err)
	if s.recorder != nil {
		s.recorder.RecordTokenRefresh(outcome)
	}

	switch outcome {
	case OutcomeSuccess, OutcomeSuperseded:
	case OutcomeExpired:
		s.logger.Info("トークンの更新に失敗したためログアウトしました",
			slog.String("client_id", shortID(t.ClientID())),
		)
	default:
		s.logger.Error("トークンの更新に失敗しました",
			slog.String("client_id", shortID(t.ClientID())),
			slog.String("error", err.Error()),
		)
	}
}

// classify は更新結果をメトリクスのラベルに分類する。
func classify(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, session.ErrSuperseded) {
		return OutcomeSuperseded
	}
	var aerr *model.AuthError
	if errors.As(err, &aerr) && aerr.Reason == model.AuthReasonSessionExpired {
		return OutcomeExpired
	}
	return OutcomeError
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
