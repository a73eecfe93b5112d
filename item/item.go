// Package item определяет товар, открытый во вкладке.
package item

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fffoivos/Amazon-lists/dom"
	"github.com/fffoivos/Amazon-lists/locator"
)

var ErrNotItemPage = errors.New("not on an item page")

type Context struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Price      string `json:"price"`
	ImageURL   string `json:"imageUrl"`
}

type Config struct {
	// IdentifierPattern применяется к URL, группа 1 - идентификатор.
	IdentifierPattern string `yaml:"identifierPattern"`
	// ImageAttrs проверяются по порядку на элементе itemImage.
	ImageAttrs []string `yaml:"imageAttrs"`
}

func (c Config) Validate() error {
	if c.IdentifierPattern == "" {
		return nil
	}
	re, err := regexp.Compile(c.IdentifierPattern)
	if err != nil {
		return fmt.Errorf("item: identifierPattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return fmt.Errorf("item: identifierPattern needs a capture group")
	}
	return nil
}

type Reader struct {
	page dom.Page
	loc  *locator.Locator
	cfg  Config
	re   *regexp.Regexp
}

func NewReader(page dom.Page, loc *locator.Locator, cfg Config) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Reader{page: page, loc: loc, cfg: cfg}
	if cfg.IdentifierPattern != "" {
		r.re = regexp.MustCompile(cfg.IdentifierPattern)
	}
	if len(r.cfg.ImageAttrs) == 0 {
		r.cfg.ImageAttrs = []string{"src"}
	}
	return r, nil
}

// Identifier возвращает id текущего товара или ErrNotItemPage.
func (r *Reader) Identifier(ctx context.Context) (string, error) {
	u, err := r.page.URL(ctx)
	if err != nil {
		return "", fmt.Errorf("read url: %w", err)
	}
	if r.re != nil {
		if m := r.re.FindStringSubmatch(u); len(m) > 1 && m[1] != "" {
			return m[1], nil
		}
	}

	if r.loc.Has(locator.ItemIdentifier) {
		m, ok, err := r.loc.Locate(ctx, locator.Query{Role: locator.ItemIdentifier})
		if err != nil && !errors.Is(err, dom.ErrStale) {
			return "", err
		}
		if ok {
			if v := m.Element.Attr("value"); v != "" {
				return v, nil
			}
			if m.Element.Text != "" {
				return m.Element.Text, nil
			}
		}
	}
	return "", ErrNotItemPage
}

// Read возвращает весь контекст товара. Обязателен только идентификатор.
func (r *Reader) Read(ctx context.Context) (Context, error) {
	id, err := r.Identifier(ctx)
	if err != nil {
		return Context{}, err
	}
	c := Context{Identifier: id}
	c.Title = r.text(ctx, locator.ItemTitle)
	c.Price = r.text(ctx, locator.ItemPrice)

	if el, ok := r.element(ctx, locator.ItemImage); ok {
		for _, a := range r.cfg.ImageAttrs {
			if v := el.Attr(a); v != "" {
				c.ImageURL = v
				break
			}
		}
	}
	return c, nil
}

func (r *Reader) text(ctx context.Context, role locator.Role) string {
	el, ok := r.element(ctx, role)
	if !ok {
		return ""
	}
	return el.Text
}

func (r *Reader) element(ctx context.Context, role locator.Role) (dom.Element, bool) {
	if !r.loc.Has(role) {
		return dom.Element{}, false
	}
	m, ok, err := r.loc.Locate(ctx, locator.Query{Role: role})
	if err != nil || !ok {
		return dom.Element{}, false
	}
	return m.Element, true
}
