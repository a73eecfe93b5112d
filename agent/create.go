package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/locator"
	"github.com/fffoivos/Amazon-lists/retry"
)

// CreateCollection создаёт новую коллекцию через форму хоста.
// Кнопка отправки нажимается ровно один раз, чтобы не создать дубликат.
func (c *Controller) CreateCollection(ctx context.Context, name string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	res := c.createCollection(ctx, strings.TrimSpace(name))
	c.Metrics.observe("createCollection", res, time.Since(start))
	c.Log.Info("create collection",
		zap.String("name", name),
		zap.Bool("success", res.Success),
		zap.String("error", res.Error),
		zap.Duration("took", time.Since(start)),
	)
	return res
}

func (c *Controller) createCollection(ctx context.Context, name string) Result {
	if name == "" {
		return c.fail(fmt.Errorf("%w: empty name", ErrNameNotAccepted))
	}
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
	c.publishRecords(ctx, h.Records, false)

	c.setState(Locating, "")
	link, err := c.Locator.WaitFor(ctx, locator.Query{Role: locator.CreateCollectionLink},
		locator.WaitOptions{Timeout: c.opts.LocateTimeout, Predicate: locator.Visible})
	if err != nil {
		return c.fail(err)
	}
	c.setState(Clicking, "")
	if !c.Gestures.Click(ctx, link.Ref()) {
		return c.fail(fmt.Errorf("%w: create link click failed", ErrTargetNotFound))
	}

	c.setState(Locating, "")
	if _, err := c.Locator.WaitFor(ctx, locator.Query{Role: locator.CreateNameField},
		locator.WaitOptions{Timeout: c.opts.CreateTimeout, Predicate: locator.Visible}); err != nil {
		return c.fail(err)
	}

	// Хост может перерисовать поле и сбросить значение, поэтому проверяем и повторяем.
	valuePolicy := retry.Policy{MaxAttempts: max(c.opts.ValueAttempts, 1), BaseDelay: c.opts.ValueDelay}
	if _, err := retry.Do(ctx, valuePolicy, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, c.fillName(ctx, name)
	}); err != nil {
		return c.fail(err)
	}

	submit, err := c.Locator.WaitFor(ctx, locator.Query{Role: locator.CreateSubmit},
		locator.WaitOptions{Timeout: c.opts.LocateTimeout, Predicate: locator.Visible})
	if err != nil {
		return c.fail(err)
	}
	c.setState(Clicking, "")
	if !c.Gestures.Click(ctx, submit.Ref()) {
		return c.fail(fmt.Errorf("%w: submit click failed", ErrTargetNotFound))
	}

	c.setState(Confirming, "")
	if err := c.Locator.WaitGone(ctx, locator.Query{Role: locator.CreateNameField},
		locator.WaitOptions{Timeout: c.opts.CreateTimeout, Predicate: locator.Visible}); err != nil {
		return c.fail(fmt.Errorf("%w: create form still open: %v", ErrConfirmationTimeout, err))
	}

	// Новая коллекция появится только в заново открытой панели.
	c.setState(OverlayOpening, "")
	h, err = c.Opener.Open(ctx, true, func(ctx context.Context) error {
		return c.checkItem(ctx, it.Identifier)
	})
	if err != nil {
		c.Log.Warn("reopen after create failed", zap.Error(err))
		c.setState(Succeeded, "")
		return Result{Success: true, Attempts: 1}
	}
	c.publishRecords(ctx, h.Records, true)
	c.setState(Succeeded, "")

	n := len(h.Records)
	return Result{Success: true, ListCount: &n, Attempts: 1}
}

func (c *Controller) fillName(ctx context.Context, name string) error {
	field, ok, err := c.Locator.LocateWhere(ctx, locator.Query{Role: locator.CreateNameField}, locator.Visible)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: name field gone", ErrNameNotAccepted)
	}
	if err := c.Page.SetValue(ctx, field.Ref(), name); err != nil {
		return fmt.Errorf("%w: %v", ErrNameNotAccepted, err)
	}
	got, err := c.Page.Value(ctx, field.Ref())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNameNotAccepted, err)
	}
	if got != name {
		return fmt.Errorf("%w: field holds %q", ErrNameNotAccepted, got)
	}
	return nil
}
