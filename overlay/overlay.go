// Package overlay открывает панель коллекций и читает её.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/dom"
	"github.com/fffoivos/Amazon-lists/extract"
	"github.com/fffoivos/Amazon-lists/filter"
	"github.com/fffoivos/Amazon-lists/gesture"
	"github.com/fffoivos/Amazon-lists/locator"
	"github.com/fffoivos/Amazon-lists/retry"
	"github.com/fffoivos/Amazon-lists/settings"
)

var (
	ErrTriggerNotFound    = errors.New("trigger not found")
	ErrOverlayOpenTimeout = errors.New("overlay did not open")
)

type Options struct {
	MaxClicks    int
	ClickPause   time.Duration // после каждого клика по кнопке
	PollTimeout  time.Duration // ожидание видимости на один клик
	Timeout      time.Duration // весь цикл кликов
	SettleDelay  time.Duration // после появления панели
	DismissPause time.Duration // после принудительного закрытия
}

func DefaultOptions() Options {
	return Options{
		MaxClicks:    4,
		ClickPause:   300 * time.Millisecond,
		PollTimeout:  1500 * time.Millisecond,
		Timeout:      8 * time.Second,
		SettleDelay:  250 * time.Millisecond,
		DismissPause: 300 * time.Millisecond,
	}
}

// Handle - живая панель одной операции. Между операциями не хранить:
// хост пересоздаёт панель когда угодно.
type Handle struct {
	Ref      string
	Strategy locator.Strategy
	Records  []extract.Record

	page dom.Page
}

// Visible: панель ещё в документе и видна.
func (h *Handle) Visible(ctx context.Context) bool {
	el, err := h.page.Describe(ctx, h.Ref)
	return err == nil && el.Visible
}

type Deps struct {
	Page     dom.Page
	Locator  *locator.Locator
	Gestures *gesture.Simulator
	Engine   *extract.Engine
	Filter   *filter.Store     // необязательно
	Settings settings.Provider // необязательно
	Log      *zap.Logger
}

type Opener struct {
	Deps
	opts Options
}

func New(d Deps, opts Options) *Opener {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if opts.MaxClicks < 1 {
		opts.MaxClicks = 1
	}
	return &Opener{Deps: d, opts: opts}
}

// Current возвращает видимую панель, ничего не нажимая.
func (o *Opener) Current(ctx context.Context) (locator.Match, bool, error) {
	return o.Locator.LocateWhere(ctx, locator.Query{Role: locator.CollectionPanel}, locator.Visible)
}

// Guard проверяет перед каждым кликом по кнопке, что страница всё ещё та же.
type Guard func(context.Context) error

// Open возвращает открытую и прочитанную панель. Уже открытая панель
// переиспользуется, если не задан force: тогда она закрывается и открывается
// заново. Ошибка guard возвращается как есть, без кликов.
func (o *Opener) Open(ctx context.Context, force bool, guard Guard) (*Handle, error) {
	if guard == nil {
		guard = func(context.Context) error { return nil }
	}
	cur, open, err := o.Current(ctx)
	if err != nil {
		return nil, err
	}
	if open && !force {
		return o.ready(ctx, cur, false)
	}
	if open {
		o.dismiss(ctx)
		if err := guard(ctx); err != nil {
			return nil, err
		}
	}

	if _, ok, err := o.Locator.Locate(ctx, locator.Query{Role: locator.DropdownTrigger}); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrTriggerNotFound
	}

	deadline := time.Now().Add(o.opts.Timeout)
	clicks := 0
	for clicks < o.opts.MaxClicks && time.Now().Before(deadline) {
		clicks++
		// Кнопку мог перерисовать предыдущий клик.
		trigger, ok, err := o.Locator.Locate(ctx, locator.Query{Role: locator.DropdownTrigger})
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := guard(ctx); err != nil {
			return nil, err
		}
		if ok {
			if !o.Gestures.Click(ctx, trigger.Ref()) {
				o.Log.Debug("trigger click failed", zap.Int("click", clicks))
			}
		}
		if err := retry.Sleep(ctx, o.opts.ClickPause); err != nil {
			return nil, err
		}

		wait := min(o.opts.PollTimeout, time.Until(deadline))
		if wait <= 0 {
			break
		}
		m, err := o.Locator.WaitFor(ctx, locator.Query{Role: locator.CollectionPanel}, locator.WaitOptions{
			Timeout:   wait,
			Predicate: locator.Visible,
		})
		if err == nil {
			o.Log.Debug("overlay open", zap.Int("clicks", clicks), zap.Stringer("strategy", m.Strategy))
			return o.ready(ctx, m, true)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, locator.ErrLocateTimeout) {
			o.Log.Debug("overlay wait failed", zap.Int("click", clicks), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("%w after %d clicks", ErrOverlayOpenTimeout, clicks)
}

// Extract перечитывает записи живой панели.
func (o *Opener) Extract(ctx context.Context, h *Handle) ([]extract.Record, error) {
	markup, err := o.Page.OuterHTML(ctx, h.Ref)
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	recs, err := o.Engine.Extract(markup)
	if err != nil {
		return nil, err
	}
	h.Records = recs
	return recs, nil
}

// Snapshot читает панель, только если она уже показана. Без кликов.
func (o *Opener) Snapshot(ctx context.Context) ([]extract.Record, bool, error) {
	cur, open, err := o.Current(ctx)
	if err != nil || !open {
		return nil, false, err
	}
	recs, err := o.Extract(ctx, &Handle{Ref: cur.Ref(), Strategy: cur.Strategy, page: o.Page})
	if err != nil {
		return nil, false, err
	}
	return recs, true, nil
}

// SaveFilter сохраняет текущий текст поиска панели.
func (o *Opener) SaveFilter(ctx context.Context, h *Handle) error {
	if o.Filter == nil {
		return nil
	}
	field, ok := o.searchField(ctx, h.Ref)
	if !ok {
		return nil
	}
	v, err := o.Page.Value(ctx, field)
	if err != nil {
		return fmt.Errorf("read search field: %w", err)
	}
	return o.Filter.Save(ctx, v)
}

// ClearFilter стирает сохранённый текст и очищает поле открытой панели.
func (o *Opener) ClearFilter(ctx context.Context) error {
	if o.Filter != nil {
		if err := o.Filter.Clear(ctx); err != nil {
			return err
		}
	}
	cur, open, err := o.Current(ctx)
	if err != nil || !open {
		return err
	}
	return o.setSearch(ctx, cur.Ref(), "")
}

func (o *Opener) ready(ctx context.Context, m locator.Match, fresh bool) (*Handle, error) {
	h := &Handle{Ref: m.Ref(), Strategy: m.Strategy, page: o.Page}
	if fresh {
		if err := retry.Sleep(ctx, o.opts.SettleDelay); err != nil {
			return nil, err
		}
		if err := o.applyFilter(ctx, h.Ref); err != nil {
			o.Log.Debug("filter not applied", zap.Error(err))
		}
	}
	if _, err := o.Extract(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (o *Opener) applyFilter(ctx context.Context, panel string) error {
	if o.Filter == nil {
		return nil
	}
	if o.Settings == nil || !o.Settings.Bool(settings.KeyPersistFilter) {
		if err := o.Filter.Clear(ctx); err != nil {
			return err
		}
		return o.setSearch(ctx, panel, "")
	}
	v, err := o.Filter.Restore(ctx)
	if err != nil || v == "" {
		return err
	}
	return o.setSearch(ctx, panel, v)
}

func (o *Opener) setSearch(ctx context.Context, panel, value string) error {
	field, ok := o.searchField(ctx, panel)
	if !ok {
		return nil
	}
	cur, err := o.Page.Value(ctx, field)
	if err != nil {
		return err
	}
	if cur == value {
		return nil
	}
	return o.Page.SetValue(ctx, field, value)
}

func (o *Opener) searchField(ctx context.Context, panel string) (string, bool) {
	if !o.Locator.Has(locator.PanelSearch) {
		return "", false
	}
	m, ok, err := o.Locator.Locate(ctx, locator.Query{Role: locator.PanelSearch, Scope: panel})
	if err != nil || !ok {
		return "", false
	}
	return m.Ref(), true
}

func (o *Opener) dismiss(ctx context.Context) {
	o.Gestures.ClickBackground(ctx)
	o.Gestures.PressKey(ctx, "", "Escape")
	_ = retry.Sleep(ctx, o.opts.DismissPause)
}
