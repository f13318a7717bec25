package networkmap

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// errRebuilderClosed はClose後に再構築を要求した場合のエラー。
var errRebuilderClosed = errors.New("rebuilder is closed")

// rebuilder はネットワークマップの再構築を単一のgoroutineで直列に実行する。
// 実行中に届いた要求はまとめて1回の再構築で処理し、全員に同じ結果を返す。
type rebuilder struct {
	build    func(ctx context.Context) error
	logger   *slog.Logger
	requests chan chan error
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func newRebuilder(build func(ctx context.Context) error, logger *slog.Logger) *rebuilder {
	return &rebuilder{
		build:    build,
		logger:   logger,
		requests: make(chan chan error),
		done:     make(chan struct{}),
	}
}

// start はワーカーgoroutineを起動する。
func (r *rebuilder) start() {
	r.wg.Add(1)
	go r.loop()
}

func (r *rebuilder) loop() {
	defer r.wg.Done()

	r.logger.Info("ネットワークマップ再構築ワーカーを開始しました")
	for {
		select {
		case <-r.done:
			r.logger.Info("ネットワークマップ再構築ワーカーを停止しました")
			return
		case reply := <-r.requests:
			replies := []chan error{reply}
		drain:
			for {
				select {
				case more := <-r.requests:
					replies = append(replies, more)
				default:
					break drain
				}
			}

			err := r.build(context.Background())
			if err != nil {
				r.logger.Error("ネットワークマップの再構築に失敗しました",
					slog.String("error", err.Error()),
					slog.Int("pending_requests", len(replies)),
				)
			}
			for _, ch := range replies {
				ch <- err
			}
		}
	}
}

// request は再構築を要求し、その完了を待つ。
// 要求を受け渡した後でctxがキャンセルされても再構築自体は実行される。
func (r *rebuilder) request(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case r.requests <- reply:
	case <-r.done:
		return errRebuilderClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop はワーカーを停止し、実行中の再構築の完了を待つ。複数回呼んでもよい。
func (r *rebuilder) stop() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}
