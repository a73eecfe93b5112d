package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/confirm"
	"github.com/fffoivos/Amazon-lists/dom"
	"github.com/fffoivos/Amazon-lists/events"
	"github.com/fffoivos/Amazon-lists/extract"
	"github.com/fffoivos/Amazon-lists/gesture"
	"github.com/fffoivos/Amazon-lists/item"
	"github.com/fffoivos/Amazon-lists/locator"
	"github.com/fffoivos/Amazon-lists/overlay"
	"github.com/fffoivos/Amazon-lists/retry"
	"github.com/fffoivos/Amazon-lists/settings"
)

type State string

const (
	Idle           State = "Idle"
	OverlayOpening State = "OverlayOpening"
	Extracted      State = "Extracted"
	Locating       State = "Locating"
	Clicking       State = "Clicking"
	Confirming     State = "Confirming"
	Succeeded      State = "Succeeded"
	Failed         State = "Failed"
)

// Причины отказа, которые уходят наружу строкой.
const (
	ReasonTriggerNotFound     = "TriggerNotFound"
	ReasonOverlayOpenTimeout  = "OverlayOpenTimeout"
	ReasonTargetNotFound      = "TargetNotFound"
	ReasonConfirmationTimeout = "ConfirmationTimeout"
	ReasonNavigation          = "NavigationDuringAction"
	ReasonNotOnTargetPage     = "not_on_target_page"
	ReasonLocateTimeout       = "LocateTimeout"
	ReasonNameNotAccepted     = "NameNotAccepted"
	ReasonCanceled            = "Canceled"
	ReasonInternal            = "Internal"
)

var (
	ErrNavigation          = errors.New("item changed during action")
	ErrTargetNotFound      = errors.New("collection not found in overlay")
	ErrConfirmationTimeout = errors.New("no confirmation from host")
	ErrNameNotAccepted     = errors.New("name field did not keep the value")
)

// Result - сериализуемый ответ на любой запрос.
type Result struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ListCount *int   `json:"listCount,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

// Session - состояние одного контекста страницы (одного товара).
type Session struct {
	Item      item.Context     `json:"item"`
	Records   []extract.Record `json:"records"`
	State     State            `json:"state"`
	Reason    string           `json:"reason,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Backoff     bool
	MaxDelay    time.Duration

	LocateTimeout  time.Duration // поиск ссылки коллекции в открытой панели
	ConfirmTimeout time.Duration
	CreateTimeout  time.Duration // появление и закрытие формы создания
	ValueAttempts  int           // повторы ввода имени
	ValueDelay     time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:    3,
		RetryDelay:     500 * time.Millisecond,
		Backoff:        true,
		MaxDelay:       4 * time.Second,
		LocateTimeout:  2 * time.Second,
		ConfirmTimeout: 5 * time.Second,
		CreateTimeout:  5 * time.Second,
		ValueAttempts:  3,
		ValueDelay:     150 * time.Millisecond,
	}
}

type Deps struct {
	Page     dom.Page
	Locator  *locator.Locator
	Gestures *gesture.Simulator
	Opener   *overlay.Opener
	Confirm  *confirm.Detector
	Items    *item.Reader
	Settings settings.Provider // необязательно
	Events   events.Emitter    // необязательно
	Metrics  *Metrics          // необязательно
	Log      *zap.Logger
}

// Controller выполняет операции над панелью коллекций одной вкладки.
// Операции идут строго по одной.
type Controller struct {
	Deps
	opts Options

	mu sync.Mutex // одна операция за раз

	smu     sync.RWMutex
	session Session
}

func New(d Deps, opts Options) *Controller {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	c := &Controller{
		Deps:    d,
		opts:    opts,
		session: Session{State: Idle, UpdatedAt: time.Now()},
	}
	if d.Settings != nil {
		d.Settings.OnChange(settings.KeyPersistFilter, c.persistFilterChanged)
	}
	return c
}

const settingsApplyTimeout = 5 * time.Second

// persistFilterChanged применяет настройку без перезапуска: при выключении
// сохранённый фильтр стирается сразу. Во время операции ничего не делает,
// afterAdd прочитает новое значение сам.
func (c *Controller) persistFilterChanged(on bool) {
	c.Log.Info("filter persistence changed", zap.Bool("persist", on))
	if on || c.Opener == nil {
		return
	}
	if !c.mu.TryLock() {
		return
	}
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), settingsApplyTimeout)
	defer cancel()
	if err := c.Opener.ClearFilter(ctx); err != nil {
		c.Log.Debug("filter clear failed", zap.Error(err))
	}
}

// Session возвращает копию текущего состояния.
func (c *Controller) Session() Session {
	c.smu.RLock()
	defer c.smu.RUnlock()
	s := c.session
	s.Records = slices.Clone(s.Records)
	return s
}

// RequestCollections открывает панель при необходимости и возвращает число коллекций.
func (c *Controller) RequestCollections(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	res := c.requestCollections(ctx)
	c.Metrics.observe("requestCollections", res, time.Since(start))
	return res
}

func (c *Controller) requestCollections(ctx context.Context) Result {
	it, err := c.Items.Read(ctx)
	if err != nil {
		return c.fail(err)
	}
	c.enter(ctx, it)

	c.setState(OverlayOpening, "")
	h, err := c.Opener.Open(ctx, false, nil)
	if err != nil {
		return c.fail(err)
	}
	c.setState(Extracted, "")
	c.publishRecords(ctx, h.Records, true)
	c.setState(Idle, "")

	n := len(h.Records)
	return Result{Success: true, ListCount: &n, Attempts: 1}
}

// AddToCollection добавляет текущий товар в коллекцию id.
func (c *Controller) AddToCollection(ctx context.Context, id string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	res := c.addToCollection(ctx, id)
	c.Metrics.observe("addToCollection", res, time.Since(start))
	c.Log.Info("add to collection",
		zap.String("collection", id),
		zap.Bool("success", res.Success),
		zap.String("error", res.Error),
		zap.Int("attempts", res.Attempts),
		zap.Duration("took", time.Since(start)),
	)
	return res
}

func (c *Controller) addToCollection(ctx context.Context, id string) Result {
	if strings.TrimSpace(id) == "" {
		return c.fail(fmt.Errorf("%w: empty id", ErrTargetNotFound))
	}
	it, err := c.Items.Read(ctx)
	if err != nil {
		return c.fail(err)
	}
	c.enter(ctx, it)
	base := it.Identifier
	sameItem := func(ctx context.Context) error { return c.checkItem(ctx, base) }

	var (
		attempts int
		last     *overlay.Handle
	)
	policy := retry.Policy{
		MaxAttempts: c.opts.MaxAttempts,
		BaseDelay:   c.opts.RetryDelay,
		Backoff:     c.opts.Backoff,
		MaxDelay:    c.opts.MaxDelay,
		ShouldRetry: retryable,
		OnRetry: func(s retry.Session, err error, delay time.Duration) {
			c.Metrics.retry("addToCollection", reason(err))
			c.Log.Debug("add attempt failed",
				zap.Int("attempt", s.Attempt),
				zap.Duration("elapsed", s.Elapsed()),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}

	out, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (confirm.Outcome, error) {
		attempts = attempt
		if err := sameItem(ctx); err != nil {
			return confirm.Outcome{}, err
		}

		// Со второй попытки панель открываем заново: хост мог её перерисовать.
		c.setState(OverlayOpening, "")
		h, err := c.Opener.Open(ctx, attempt > 1, sameItem)
		if err != nil {
			return confirm.Outcome{}, err
		}
		last = h
		c.setState(Extracted, "")
		c.publishRecords(ctx, h.Records, false)

		if err := c.checkItem(ctx, base); err != nil {
			return confirm.Outcome{}, err
		}

		c.setState(Locating, "")
		if !slices.ContainsFunc(h.Records, func(r extract.Record) bool { return r.ID == id }) {
			return confirm.Outcome{}, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
		}
		link, err := c.Locator.WaitFor(ctx, locator.Query{
			Role:  locator.CollectionLink,
			Scope: h.Ref,
			Vars:  map[string]string{"id": id},
		}, locator.WaitOptions{Timeout: c.opts.LocateTimeout})
		if errors.Is(err, locator.ErrLocateTimeout) {
			return confirm.Outcome{}, fmt.Errorf("%w: %s has no link", ErrTargetNotFound, id)
		}
		if err != nil {
			return confirm.Outcome{}, err
		}

		if err := c.checkItem(ctx, base); err != nil {
			return confirm.Outcome{}, err
		}

		// Текст успеха, оставшийся от прошлого добавления, не подтверждает этот клик.
		seen := c.Confirm.Baseline(ctx, h.Ref)

		c.setState(Clicking, "")
		if !c.Gestures.Click(ctx, link.Ref()) {
			return confirm.Outcome{}, fmt.Errorf("%w: click on %s failed", ErrTargetNotFound, id)
		}

		c.setState(Confirming, "")
		o := c.Confirm.Await(ctx, h.Ref, seen, c.opts.ConfirmTimeout)
		if !o.Success {
			if ctx.Err() != nil {
				return o, ctx.Err()
			}
			return o, ErrConfirmationTimeout
		}
		return o, nil
	})

	if !errors.Is(err, ErrNavigation) {
		c.afterAdd(ctx, last)
	}
	if err != nil {
		res := c.fail(err)
		res.Attempts = attempts
		return res
	}

	c.setState(Succeeded, "")
	return Result{Success: true, Attempts: attempts, Pattern: out.Pattern}
}

// afterAdd сохраняет или стирает фильтр панели по настройке пользователя.
func (c *Controller) afterAdd(ctx context.Context, h *overlay.Handle) {
	var err error
	if c.Settings != nil && c.Settings.Bool(settings.KeyPersistFilter) {
		if h != nil {
			err = c.Opener.SaveFilter(ctx, h)
		}
	} else {
		err = c.Opener.ClearFilter(ctx)
	}
	if err != nil {
		c.Log.Debug("filter update failed", zap.Error(err))
	}
}

// checkItem прерывает операцию, если пользователь ушёл на другой товар.
func (c *Controller) checkItem(ctx context.Context, base string) error {
	id, err := c.Items.Identifier(ctx)
	if errors.Is(err, item.ErrNotItemPage) {
		return fmt.Errorf("%w: left item %s", ErrNavigation, base)
	}
	if err != nil {
		return err
	}
	if id != base {
		return fmt.Errorf("%w: %s -> %s", ErrNavigation, base, id)
	}
	return nil
}

// enter начинает новую сессию, если товар сменился.
func (c *Controller) enter(ctx context.Context, it item.Context) bool {
	c.smu.Lock()
	changed := c.session.Item.Identifier != it.Identifier
	if changed {
		c.session = Session{Item: it, State: Idle}
	} else {
		c.session.Item = it
	}
	c.session.UpdatedAt = time.Now()
	c.smu.Unlock()

	if changed {
		c.emit(ctx, events.NewItemContextChanged(it))
	}
	return changed
}

// publishRecords обновляет список коллекций; событие уходит только при изменении,
// если force не задан.
func (c *Controller) publishRecords(ctx context.Context, recs []extract.Record, force bool) {
	c.smu.Lock()
	changed := !slices.Equal(c.session.Records, recs)
	c.session.Records = slices.Clone(recs)
	c.session.UpdatedAt = time.Now()
	it := c.session.Item
	c.smu.Unlock()

	if changed || force {
		c.emit(ctx, events.NewCollectionsUpdated(slices.Clone(recs), it))
	}
}

func (c *Controller) emit(ctx context.Context, ev events.Event) {
	c.Metrics.event(string(ev.Type))
	c.Events.Emit(ctx, ev)
}

func (c *Controller) setState(s State, why string) {
	c.smu.Lock()
	c.session.State = s
	c.session.Reason = why
	c.session.UpdatedAt = time.Now()
	c.smu.Unlock()
}

func (c *Controller) fail(err error) Result {
	r := reason(err)
	if r == ReasonInternal {
		c.Log.Warn("operation failed", zap.Error(err))
	}
	c.setState(Failed, r)
	return Result{Error: r}
}

func retryable(err error, _ int) bool {
	switch {
	case errors.Is(err, ErrNavigation),
		errors.Is(err, overlay.ErrTriggerNotFound),
		errors.Is(err, overlay.ErrOverlayOpenTimeout),
		errors.Is(err, item.ErrNotItemPage),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrNavigation):
		return ReasonNavigation
	case errors.Is(err, overlay.ErrTriggerNotFound):
		return ReasonTriggerNotFound
	case errors.Is(err, overlay.ErrOverlayOpenTimeout):
		return ReasonOverlayOpenTimeout
	case errors.Is(err, ErrTargetNotFound):
		return ReasonTargetNotFound
	case errors.Is(err, ErrConfirmationTimeout):
		return ReasonConfirmationTimeout
	case errors.Is(err, item.ErrNotItemPage):
		return ReasonNotOnTargetPage
	case errors.Is(err, locator.ErrLocateTimeout):
		return ReasonLocateTimeout
	case errors.Is(err, ErrNameNotAccepted):
		return ReasonNameNotAccepted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	case errors.Is(err, dom.ErrStale):
		// Панель перерисована прямо во время шага.
		return ReasonTargetNotFound
	}
	return ReasonInternal
}
