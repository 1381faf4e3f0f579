package messaging

import (
	"context"

	"github.com/hitoshi/packmart/internal/platform"
)

// Subscription はキャンセル可能なリアルタイム購読。
type Subscription interface {
	Close() error
	Done() <-chan struct{}
	UpdateAccessToken(token string) error
}

// Realtime はデータ変更の購読を開始するインターフェース。
// platform.Realtimeを抽象化してテスタビリティを向上させる。
type Realtime interface {
	Subscribe(ctx context.Context, filter platform.ChangeFilter, accessToken string, handler platform.ChangeHandler) (Subscription, error)
}

// platformRealtime はplatform.RealtimeをRealtimeに適合させる。
type platformRealtime struct {
	rt *platform.Realtime
}

// NewPlatformRealtime はplatform.RealtimeをRealtimeとして返す。
func NewPlatformRealtime(rt *platform.Realtime) Realtime {
	return &platformRealtime{rt: rt}
}

func (p *platformRealtime) Subscribe(ctx context.Context, filter platform.ChangeFilter, accessToken string, handler platform.ChangeHandler) (Subscription, error) {
	sub, err := p.rt.Subscribe(ctx, filter, accessToken, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
