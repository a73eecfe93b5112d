// Package confirm решает, принял ли хост добавление.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/dom"
	"github.com/fffoivos/Amazon-lists/locator"
)

// Config - формулировки успеха. LiveRegions - CSS-селекторы, которые
// проверяются вместе с корнем панели.
type Config struct {
	HeaderPattern     string   `yaml:"headerPattern"`
	LiveRegions       []string `yaml:"liveRegions"`
	LiveRegionPattern string   `yaml:"liveRegionPattern"`
}

func (c Config) Validate() error {
	if c.HeaderPattern == "" || c.LiveRegionPattern == "" {
		return fmt.Errorf("confirmation: headerPattern and liveRegionPattern are required")
	}
	if _, err := regexp.Compile(c.HeaderPattern); err != nil {
		return fmt.Errorf("confirmation: headerPattern: %w", err)
	}
	if _, err := regexp.Compile(c.LiveRegionPattern); err != nil {
		return fmt.Errorf("confirmation: liveRegionPattern: %w", err)
	}
	return nil
}

// Outcome - единственный вердикт одного вызова Await.
type Outcome struct {
	Success bool
	Pattern string
	Source  string
}

const (
	SourceHeader  = "header"
	SourceOverlay = "overlay"
)

const fallbackPoll = 250 * time.Millisecond

type Detector struct {
	page   dom.Page
	loc    *locator.Locator
	cfg    Config
	header *regexp.Regexp
	live   *regexp.Regexp
	log    *zap.Logger
}

func New(page dom.Page, loc *locator.Locator, cfg Config, log *zap.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{
		page:   page,
		loc:    loc,
		cfg:    cfg,
		header: regexp.MustCompile(cfg.HeaderPattern),
		live:   regexp.MustCompile(cfg.LiveRegionPattern),
		log:    log,
	}, nil
}

// Baseline - тексты кандидатов на странице до клика.
// Нулевое значение считает новым любой элемент.
type Baseline struct {
	seen map[string]string
}

// fresh: элемент появился или сменил текст после снимка.
func (b Baseline) fresh(el dom.Element) bool {
	old, ok := b.seen[el.Ref]
	return !ok || old != el.Text
}

// Baseline снимает текущие тексты заголовка и живых областей.
// Вызывается непосредственно перед кликом по ссылке коллекции.
func (d *Detector) Baseline(ctx context.Context, overlayRef string) Baseline {
	b := Baseline{seen: make(map[string]string)}
	for _, c := range d.candidates(ctx, overlayRef) {
		b.seen[c.el.Ref] = c.el.Text
	}
	return b
}

// Await ждёт, пока на странице появится видимый текст успеха, которого не было
// в base, или истечёт timeout. Наблюдатель и таймеры снимаются до выхода.
func (d *Detector) Await(ctx context.Context, overlayRef string, base Baseline, timeout time.Duration) Outcome {
	if out := d.check(ctx, overlayRef, base); out.Success {
		return out
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(fallbackPoll)
	defer ticker.Stop()

	notify, stop, err := d.page.Observe(ctx, "")
	if err != nil {
		d.log.Debug("confirmation observer unavailable, polling", zap.Error(err))
		notify, stop = nil, func() {}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return Outcome{}
		case <-deadline.C:
			// Текст, появившийся перед самым таймером, тоже считается.
			return d.check(ctx, overlayRef, base)
		case <-notify:
		case <-ticker.C:
		}
		if out := d.check(ctx, overlayRef, base); out.Success {
			return out
		}
	}
}

type candidate struct {
	el     dom.Element
	re     *regexp.Regexp
	source string
}

func (d *Detector) check(ctx context.Context, overlayRef string, base Baseline) Outcome {
	for _, c := range d.candidates(ctx, overlayRef) {
		if c.el.Visible && base.fresh(c.el) && c.re.MatchString(c.el.Text) {
			return Outcome{Success: true, Pattern: c.re.String(), Source: c.source}
		}
	}
	return Outcome{}
}

// candidates: заголовок статуса, корень панели, затем живые области из профиля.
func (d *Detector) candidates(ctx context.Context, overlayRef string) []candidate {
	var out []candidate
	if d.loc != nil && d.loc.Has(locator.StatusHeader) {
		ms, err := d.loc.LocateAll(ctx, locator.Query{Role: locator.StatusHeader})
		if err != nil && !errors.Is(err, dom.ErrStale) {
			d.log.Debug("status header lookup failed", zap.Error(err))
		}
		for _, m := range ms {
			out = append(out, candidate{el: m.Element, re: d.header, source: SourceHeader})
		}
	}

	if overlayRef != "" {
		if el, err := d.page.Describe(ctx, overlayRef); err == nil {
			out = append(out, candidate{el: el, re: d.live, source: SourceOverlay})
		}
	}

	for _, sel := range d.cfg.LiveRegions {
		els, err := d.page.Find(ctx, "", sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			out = append(out, candidate{el: el, re: d.live, source: sel})
		}
	}
	return out
}
