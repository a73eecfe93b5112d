package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/chromedp/chromedp"

	"github.com/fffoivos/Amazon-lists/dom"
)

var (
	_ dom.Page    = (*Browser)(nil)
	_ dom.Storage = (*Browser)(nil)
)

type staleResult struct {
	Stale bool `json:"stale"`
}

type valueResult struct {
	Stale bool   `json:"stale"`
	Value string `json:"value"`
}

// script собирает вызов fn(arg) вместе с prelude. Аргумент передаётся как JSON,
// поэтому экранировать строки вручную не нужно.
func script(fn string, arg any) (string, error) {
	data, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("encode script argument: %w", err)
	}
	return "(function() {\n" + prelude + "\nreturn (" + fn + ")(" + string(data) + ");\n})()", nil
}

func (b *Browser) eval(ctx context.Context, fn string, arg, out any) error {
	if err := b.alive(); err != nil {
		return err
	}
	js, err := script(fn, arg)
	if err != nil {
		return err
	}
	tctx, cancel := b.scoped(ctx, b.opTimeout)
	defer cancel()
	if err := chromedp.Run(tctx, chromedp.Evaluate(js, out)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (b *Browser) evalRef(ctx context.Context, fn, ref string) error {
	var res staleResult
	if err := b.eval(ctx, fn, map[string]string{"ref": ref}, &res); err != nil {
		return err
	}
	if res.Stale {
		return dom.ErrStale
	}
	return nil
}

func (b *Browser) Find(ctx context.Context, scope, selector string) ([]dom.Element, error) {
	var res struct {
		Stale    bool          `json:"stale"`
		Elements []dom.Element `json:"elements"`
	}
	if err := b.eval(ctx, findJS, map[string]string{"scope": scope, "selector": selector}, &res); err != nil {
		return nil, fmt.Errorf("find %q: %w", selector, err)
	}
	if res.Stale {
		return nil, dom.ErrStale
	}
	return res.Elements, nil
}

func (b *Browser) Describe(ctx context.Context, ref string) (dom.Element, error) {
	var res struct {
		Stale   bool        `json:"stale"`
		Element dom.Element `json:"element"`
	}
	if err := b.eval(ctx, describeJS, map[string]string{"ref": ref}, &res); err != nil {
		return dom.Element{}, err
	}
	if res.Stale {
		return dom.Element{}, dom.ErrStale
	}
	return res.Element, nil
}

func (b *Browser) OuterHTML(ctx context.Context, ref string) (string, error) {
	var res valueResult
	if err := b.eval(ctx, outerHTMLJS, map[string]string{"ref": ref}, &res); err != nil {
		return "", err
	}
	if res.Stale {
		return "", dom.ErrStale
	}
	return res.Value, nil
}

func (b *Browser) ScrollIntoView(ctx context.Context, ref string) error {
	return b.evalRef(ctx, scrollJS, ref)
}

func (b *Browser) SupportsPointerEvents(ctx context.Context) (bool, error) {
	var ok bool
	err := b.eval(ctx, pointerJS, nil, &ok)
	return ok, err
}

func (b *Browser) Dispatch(ctx context.Context, ref string, ev dom.Event) error {
	var res staleResult
	arg := map[string]string{"ref": ref, "type": ev.Type, "kind": string(ev.Kind), "key": ev.Key}
	if err := b.eval(ctx, dispatchJS, arg, &res); err != nil {
		return fmt.Errorf("dispatch %s: %w", ev.Type, err)
	}
	if res.Stale {
		return dom.ErrStale
	}
	return nil
}

func (b *Browser) SetValue(ctx context.Context, ref, value string) error {
	var res staleResult
	if err := b.eval(ctx, setValueJS, map[string]string{"ref": ref, "value": value}, &res); err != nil {
		return err
	}
	if res.Stale {
		return dom.ErrStale
	}
	return nil
}

func (b *Browser) Value(ctx context.Context, ref string) (string, error) {
	var res valueResult
	if err := b.eval(ctx, valueJS, map[string]string{"ref": ref}, &res); err != nil {
		return "", err
	}
	if res.Stale {
		return "", dom.ErrStale
	}
	return res.Value, nil
}

// Observe ставит MutationObserver на ref. Уведомления приходят через
// runtime binding и склеиваются в канале с буфером 1.
func (b *Browser) Observe(ctx context.Context, ref string) (<-chan struct{}, func(), error) {
	b.obsMu.Lock()
	b.obsSeq++
	id := strconv.FormatUint(b.obsSeq, 10)
	ch := make(chan struct{}, 1)
	b.observers[id] = ch
	b.obsMu.Unlock()

	var res staleResult
	arg := map[string]string{"ref": ref, "id": id, "binding": mutationBinding}
	if err := b.eval(ctx, observeJS, arg, &res); err != nil || res.Stale {
		b.forget(id)
		if err == nil {
			err = dom.ErrStale
		}
		return nil, nil, err
	}

	stop := func() {
		if !b.forget(id) {
			return
		}
		// Документ мог уже смениться, тогда и отключать нечего.
		var res staleResult
		_ = b.eval(context.Background(), unobserveJS, map[string]string{"id": id}, &res)
	}
	return ch, stop, nil
}

func (b *Browser) notify(id string) {
	b.obsMu.Lock()
	ch := b.observers[id]
	b.obsMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (b *Browser) forget(id string) bool {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	if _, ok := b.observers[id]; !ok {
		return false
	}
	delete(b.observers, id)
	return true
}

func (b *Browser) GetItem(ctx context.Context, key string) (string, bool, error) {
	var res struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := b.eval(ctx, getItemJS, map[string]string{"key": key}, &res); err != nil {
		return "", false, fmt.Errorf("sessionStorage get: %w", err)
	}
	return res.Value, res.Found, nil
}

func (b *Browser) SetItem(ctx context.Context, key, value string) error {
	var res staleResult
	if err := b.eval(ctx, setItemJS, map[string]string{"key": key, "value": value}, &res); err != nil {
		return fmt.Errorf("sessionStorage set: %w", err)
	}
	return nil
}

func (b *Browser) RemoveItem(ctx context.Context, key string) error {
	var res staleResult
	if err := b.eval(ctx, removeItemJS, map[string]string{"key": key}, &res); err != nil {
		return fmt.Errorf("sessionStorage remove: %w", err)
	}
	return nil
}
