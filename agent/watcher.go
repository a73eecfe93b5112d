package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/item"
)

type WatchOptions struct {
	Interval time.Duration // опрос URL
	Debounce time.Duration // склейка близких сигналов
}

func DefaultWatchOptions() WatchOptions {
	return WatchOptions{Interval: time.Second, Debounce: 300 * time.Millisecond}
}

// Watch сводит опрос URL и мутации документа в один сигнал "контекст изменился"
// и на каждый сигнал обновляет сессию. Работает до отмены ctx.
func (c *Controller) Watch(ctx context.Context, opts WatchOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	var (
		notify  <-chan struct{}
		stop    = func() {}
		lastURL string
	)
	defer func() { stop() }()

	subscribe := func() {
		stop()
		ch, s, err := c.Page.Observe(ctx, "")
		if err != nil {
			c.Log.Debug("document observer unavailable", zap.Error(err))
			notify, stop = nil, func() {}
			return
		}
		notify, stop = ch, s
	}
	signal := func() { debounce.Reset(opts.Debounce) }

	subscribe()
	signal()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			u, err := c.Page.URL(ctx)
			if err != nil {
				continue
			}
			if u != lastURL {
				lastURL = u
				// Новый документ: старый наблюдатель больше ничего не пришлёт.
				subscribe()
				signal()
			}
		case <-notify:
			signal()
		case <-debounce.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh перечитывает товар и открытую панель. Если идёт операция, ничего не делает:
// операция сама обновляет сессию.
func (c *Controller) Refresh(ctx context.Context) bool {
	if !c.mu.TryLock() {
		return false
	}
	defer c.mu.Unlock()

	it, err := c.Items.Read(ctx)
	if errors.Is(err, item.ErrNotItemPage) {
		it = item.Context{}
	} else if err != nil {
		c.Log.Debug("item read failed", zap.Error(err))
		return false
	}
	c.enter(ctx, it)
	if it.Identifier == "" {
		return true
	}

	recs, open, err := c.Opener.Snapshot(ctx)
	if err != nil {
		c.Log.Debug("overlay snapshot failed", zap.Error(err))
		return true
	}
	if open {
		c.publishRecords(ctx, recs, false)
	}
	return true
}
