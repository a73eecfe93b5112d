// Package retry - единственный примитив ограниченных повторов. Восстановление
// (переоткрыть, перечитать, найти заново) живёт внутри самой операции.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultMultiplier = 2.0

// Policy настраивает Do.
type Policy struct {
	MaxAttempts int           // не меньше 1
	BaseDelay   time.Duration // постоянная пауза или первый шаг backoff
	Backoff     bool
	Multiplier  float64       // рост backoff, 0 - DefaultMultiplier
	MaxDelay    time.Duration // потолок backoff, 0 - без потолка

	// ShouldRetry == false - сразу вернуть err. nil - повторять всё.
	ShouldRetry func(err error, attempt int) bool
	// OnRetry вызывается перед каждым ожиданием.
	OnRetry func(s Session, err error, delay time.Duration)
}

// Delay - пауза после неудачной попытки attempt (с 1). Без jitter.
func (p Policy) Delay(attempt int) time.Duration {
	b := p.schedule()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// schedule - новая последовательность пауз на один вызов Do.
func (p Policy) schedule() backoff.BackOff {
	if !p.Backoff {
		return backoff.NewConstantBackOff(p.BaseDelay)
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = mult
	b.MaxInterval = time.Duration(math.MaxInt64)
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.MaxElapsedTime = 0 // цикл ограничивает MaxAttempts
	b.Reset()
	return b
}

// Session - ход одного вызова Do.
type Session struct {
	Attempt int
	Started time.Time
}

func (s Session) Elapsed() time.Duration { return time.Since(s.Started) }

// Do вызывает op до успеха, до исчерпания попыток или отказа ShouldRetry.
// Ошибка последней попытки возвращается как есть.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, fmt.Errorf("retry: MaxAttempts must be positive, got %d", p.MaxAttempts)
	}

	s := Session{Started: time.Now()}
	waits := p.schedule()
	for {
		s.Attempt++
		v, err := op(ctx, s.Attempt)
		if err == nil {
			return v, nil
		}
		if s.Attempt >= p.MaxAttempts {
			return zero, err
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err, s.Attempt) {
			return zero, err
		}

		delay := waits.NextBackOff()
		if p.OnRetry != nil {
			p.OnRetry(s, err, delay)
		}
		if err := Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// Sleep ждёт d или отмены ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
