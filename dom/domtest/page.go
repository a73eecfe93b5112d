// Package domtest - dom.Page в памяти поверх документа goquery.
//
// Поведение хоста задаётся через On: обработчик срабатывает, когда событие
// нужного типа доходит до элемента по селектору (напрямую или всплытием).
// Обычно обработчик вызывает Mutate, а тот оповещает наблюдателей, как
// MutationObserver.
package domtest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/fffoivos/Amazon-lists/dom"
)

type Handler func(p *Page)

type handler struct {
	selector string
	event    string
	fn       Handler
}

// Dispatched - одно доставленное событие.
type Dispatched struct {
	Ref  string
	ID   string
	Type string
	Kind dom.EventKind
	Key  string
}

type Option func(*Page)

// WithURL задаёт адрес страницы.
func WithURL(u string) Option {
	return func(p *Page) { p.url = u }
}

// WithoutPointerEvents изображает среду без PointerEvent.
func WithoutPointerEvents() Option {
	return func(p *Page) { p.pointer = false }
}

type Page struct {
	mu       sync.Mutex
	doc      *goquery.Document
	seq      int
	pointer  bool
	url      string
	handlers []handler
	events   []Dispatched
	watchers map[int]chan struct{}
	watchSeq int
	storage  map[string]string
}

var _ dom.Page = (*Page)(nil)
var _ dom.Storage = (*Page)(nil)

// New разбирает разметку. Паникует на битом вводе, используется только в тестах.
func New(markup string, opts ...Option) *Page {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		panic(fmt.Sprintf("domtest: parse: %v", err))
	}
	p := &Page{
		doc:      doc,
		pointer:  true,
		url:      "https://www.example.test/",
		watchers: make(map[int]chan struct{}),
		storage:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// On регистрирует обработчик хоста.
func (p *Page) On(selector, eventType string, fn Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler{selector: selector, event: eventType, fn: fn})
}

// Mutate меняет документ и оповещает наблюдателей.
func (p *Page) Mutate(fn func(doc *goquery.Document)) {
	p.mu.Lock()
	fn(p.doc)
	watchers := make([]chan struct{}, 0, len(p.watchers))
	for _, ch := range p.watchers {
		watchers = append(watchers, ch)
	}
	p.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SetURL меняет адрес, не трогая документ.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

// Events возвращает копию всех отправленных событий.
func (p *Page) Events() []Dispatched {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Dispatched, len(p.events))
	copy(out, p.events)
	return out
}

// Count - сколько событий типа eventType дошло до элемента с id.
func (p *Page) Count(id, eventType string) int {
	n := 0
	for _, ev := range p.Events() {
		if ev.ID == id && ev.Type == eventType {
			n++
		}
	}
	return n
}

// Watchers - число активных наблюдателей.
func (p *Page) Watchers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watchers)
}

func (p *Page) Find(ctx context.Context, scope, selector string) ([]dom.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	root := p.doc.Selection
	if scope != "" {
		root = p.resolve(scope)
		if root == nil {
			return nil, dom.ErrStale
		}
	}

	var out []dom.Element
	root.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, p.describe(s))
	})
	return out, nil
}

func (p *Page) Describe(ctx context.Context, ref string) (dom.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.target(ref)
	if s == nil {
		return dom.Element{}, dom.ErrStale
	}
	return p.describe(s), nil
}

func (p *Page) OuterHTML(ctx context.Context, ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.target(ref)
	if s == nil {
		return "", dom.ErrStale
	}
	return goquery.OuterHtml(s)
}

func (p *Page) ScrollIntoView(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.target(ref) == nil {
		return dom.ErrStale
	}
	return nil
}

func (p *Page) SupportsPointerEvents(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pointer, nil
}

func (p *Page) Dispatch(ctx context.Context, ref string, ev dom.Event) error {
	fns, err := p.deliver(ref, ev)
	if err != nil {
		return err
	}
	for _, fn := range fns {
		fn(p)
	}
	return nil
}

func (p *Page) SetValue(ctx context.Context, ref, value string) error {
	p.mu.Lock()
	s := p.target(ref)
	if s == nil {
		p.mu.Unlock()
		return dom.ErrStale
	}
	s.SetAttr("value", value)
	p.mu.Unlock()

	return p.Dispatch(ctx, ref, dom.Event{Type: "input", Kind: dom.KeyboardEvent})
}

func (p *Page) Value(ctx context.Context, ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.target(ref)
	if s == nil {
		return "", dom.ErrStale
	}
	v, _ := s.Attr("value")
	return v, nil
}

func (p *Page) Observe(ctx context.Context, ref string) (<-chan struct{}, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.target(ref) == nil {
		return nil, nil, dom.ErrStale
	}
	p.watchSeq++
	id := p.watchSeq
	ch := make(chan struct{}, 1)
	p.watchers[id] = ch

	var once sync.Once
	stop := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.watchers, id)
			p.mu.Unlock()
		})
	}
	return ch, stop, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) GetItem(ctx context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.storage[key]
	return v, ok, nil
}

func (p *Page) SetItem(ctx context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storage[key] = value
	return nil
}

func (p *Page) RemoveItem(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.storage, key)
	return nil
}

func (p *Page) deliver(ref string, ev dom.Event) ([]Handler, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.target(ref)
	if s == nil {
		return nil, dom.ErrStale
	}
	id, _ := s.Attr("id")
	p.events = append(p.events, Dispatched{Ref: ref, ID: id, Type: ev.Type, Kind: ev.Kind, Key: ev.Key})

	var fns []Handler
	for _, h := range p.handlers {
		if h.event != ev.Type {
			continue
		}
		if s.Is(h.selector) || s.ParentsFiltered(h.selector).Length() > 0 {
			fns = append(fns, h.fn)
		}
	}
	return fns, nil
}

// target находит ref, пустой ref - body.
func (p *Page) target(ref string) *goquery.Selection {
	if ref == "" {
		return p.doc.Find("body").First()
	}
	return p.resolve(ref)
}

func (p *Page) resolve(ref string) *goquery.Selection {
	s := p.doc.Find(`[` + dom.RefAttr + `="` + ref + `"]`).First()
	if s.Length() == 0 {
		return nil
	}
	return s
}

func (p *Page) describe(s *goquery.Selection) dom.Element {
	ref, ok := s.Attr(dom.RefAttr)
	if !ok {
		p.seq++
		ref = strconv.Itoa(p.seq)
		s.SetAttr(dom.RefAttr, ref)
	}

	el := dom.Element{
		Ref:     ref,
		Tag:     goquery.NodeName(s),
		Text:    dom.NormalizeText(s.Text()),
		Attrs:   make(map[string]string),
		Visible: visible(s.Nodes[0]),
	}
	for _, a := range s.Nodes[0].Attr {
		if a.Key == dom.RefAttr {
			continue
		}
		el.Attrs[a.Key] = a.Val
	}
	el.ID = el.Attrs["id"]
	return el
}

func visible(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		for _, a := range n.Attr {
			switch a.Key {
			case "hidden":
				return false
			case "aria-hidden":
				if a.Val == "true" {
					return false
				}
			case "style":
				style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return false
				}
			}
		}
	}
	return true
}
