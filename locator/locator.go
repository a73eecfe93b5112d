// Package locator находит элементы страницы по логическим ролям.
package locator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/dom"
)

var (
	ErrLocateTimeout = errors.New("locate timeout")
	ErrStillPresent  = errors.New("element still present")
	ErrUnknownRole   = errors.New("unknown role")
)

const DefaultPollInterval = 200 * time.Millisecond

// В шаблоны подставляются id и имена, поэтому кэш ограничен.
const regexCacheSize = 256

// Query - роль внутри Scope ("" - весь документ).
type Query struct {
	Role  Role
	Scope string
	Vars  map[string]string
}

// Match - найденный элемент и стратегия, которая его нашла.
type Match struct {
	Element  dom.Element
	Role     Role
	Index    int
	Strategy Strategy
}

func (m Match) Ref() string { return m.Element.Ref }

type WaitOptions struct {
	Timeout   time.Duration
	Predicate func(dom.Element) bool
}

// Visible - обычный предикат для WaitFor.
func Visible(el dom.Element) bool { return el.Visible }

type Option func(*Locator)

func WithLogger(log *zap.Logger) Option {
	return func(l *Locator) {
		if log != nil {
			l.log = log
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(l *Locator) {
		if d > 0 {
			l.poll = d
		}
	}
}

type Locator struct {
	page  dom.Page
	table Table
	poll  time.Duration
	log   *zap.Logger
	res   *lru.Cache[string, *regexp.Regexp]
}

func New(page dom.Page, table Table, opts ...Option) *Locator {
	// Ошибка только при неположительном размере.
	res, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	l := &Locator{
		page:  page,
		table: table,
		poll:  DefaultPollInterval,
		log:   zap.NewNop(),
		res:   res,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Has сообщает, есть ли роль в таблице.
func (l *Locator) Has(role Role) bool {
	return len(l.table[role]) > 0
}

// Locate пробует стратегии роли по порядку и возвращает первое совпадение.
// Исчезнувший scope даёт dom.ErrStale.
func (l *Locator) Locate(ctx context.Context, q Query) (Match, bool, error) {
	return l.locate(ctx, q, nil)
}

// LocateWhere - Locate только по элементам, для которых pred истинен.
func (l *Locator) LocateWhere(ctx context.Context, q Query, pred func(dom.Element) bool) (Match, bool, error) {
	return l.locate(ctx, q, pred)
}

// WaitFor ищет роль и повторяет поиск на каждую мутацию внутри scope и по
// тику опроса, пока не найдётся подходящий элемент или не истечёт timeout
// (отсчёт от вызова).
func (l *Locator) WaitFor(ctx context.Context, q Query, opts WaitOptions) (Match, error) {
	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()

	m, ok, err := l.locate(ctx, q, opts.Predicate)
	if err != nil {
		return Match{}, err
	}
	if ok {
		return m, nil
	}

	notify, stop := l.observe(ctx, q.Scope)
	defer stop()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Match{}, ctx.Err()
		case <-deadline.C:
			return Match{}, fmt.Errorf("%w: %s after %s", ErrLocateTimeout, q.Role, opts.Timeout)
		case <-notify:
		case <-ticker.C:
		}

		m, ok, err := l.locate(ctx, q, opts.Predicate)
		if err != nil {
			return Match{}, err
		}
		if ok {
			return m, nil
		}
	}
}

// WaitGone ждёт, пока подходящих элементов роли не останется.
func (l *Locator) WaitGone(ctx context.Context, q Query, opts WaitOptions) error {
	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()

	notify, stop := l.observe(ctx, "")
	defer stop()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		_, ok, err := l.locate(ctx, q, opts.Predicate)
		if errors.Is(err, dom.ErrStale) || (err == nil && !ok) {
			return nil
		}
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s after %s", ErrStillPresent, q.Role, opts.Timeout)
		case <-notify:
		case <-ticker.C:
		}
	}
}

func (l *Locator) locate(ctx context.Context, q Query, pred func(dom.Element) bool) (Match, bool, error) {
	var (
		found Match
		ok    bool
	)
	err := l.each(ctx, q, func(m Match) bool {
		if pred != nil && !pred(m.Element) {
			return true
		}
		found, ok = m, true
		return false
	})
	return found, ok, err
}

// LocateAll возвращает все совпадения по всем стратегиям, в порядке таблицы.
func (l *Locator) LocateAll(ctx context.Context, q Query) ([]Match, error) {
	var out []Match
	err := l.each(ctx, q, func(m Match) bool {
		out = append(out, m)
		return true
	})
	return out, err
}

// each перебирает совпадения, пока fn возвращает true.
func (l *Locator) each(ctx context.Context, q Query, fn func(Match) bool) error {
	strategies := l.table[q.Role]
	if len(strategies) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRole, q.Role)
	}

	for i, s := range strategies {
		selector := expand(s.Selector, q.Vars, false)
		els, err := l.page.Find(ctx, q.Scope, selector)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, dom.ErrStale) {
				return fmt.Errorf("scope of %s: %w", q.Role, err)
			}
			l.log.Debug("strategy failed", zap.String("role", string(q.Role)), zap.Stringer("strategy", s), zap.Error(err))
			continue
		}

		var re *regexp.Regexp
		if s.Pattern != "" {
			re, err = l.compile(expand(s.Pattern, q.Vars, true))
			if err != nil {
				l.log.Debug("bad pattern", zap.String("role", string(q.Role)), zap.Error(err))
				continue
			}
		}

		for _, el := range els {
			if !accept(s, re, el) {
				continue
			}
			if !fn(Match{Element: el, Role: q.Role, Index: i, Strategy: s}) {
				return nil
			}
		}
	}
	return nil
}

func accept(s Strategy, re *regexp.Regexp, el dom.Element) bool {
	switch s.Kind {
	case KindText:
		return re.MatchString(el.Text)
	case KindAttribute:
		v, ok := el.Attrs[s.Attr]
		if !ok {
			return false
		}
		return re == nil || re.MatchString(v)
	default:
		return true
	}
}

func (l *Locator) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := l.res.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	l.res.Add(pattern, re)
	return re, nil
}

// observe подписывается на мутации внутри scope, иначе на весь документ,
// иначе остаётся только опрос.
func (l *Locator) observe(ctx context.Context, scope string) (<-chan struct{}, func()) {
	ch, stop, err := l.page.Observe(ctx, scope)
	if err != nil && scope != "" {
		ch, stop, err = l.page.Observe(ctx, "")
	}
	if err != nil {
		l.log.Debug("observe failed, polling only", zap.Error(err))
		return nil, func() {}
	}
	return ch, stop
}
