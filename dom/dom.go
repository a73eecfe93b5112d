// Package dom описывает живую страницу, которой управляет ядро.
//
// Element - просто снимок. Ref - единственная ссылка обратно на страницу: он
// назначается при первой встрече и действует, пока хост не удалит или не
// перерисует узел. После этого любой вызов с ним даёт ErrStale. Между шагами
// ref не хранят, а ищут элемент заново.
package dom

import (
	"context"
	"errors"
	"strings"
)

// ErrStale: ref больше не указывает на элемент в документе.
var ErrStale = errors.New("dom: element is no longer attached")

// RefAttr - атрибут, которым помечаются элементы из Find.
const RefAttr = "data-wlref"

type Element struct {
	Ref     string            `json:"ref"`
	Tag     string            `json:"tag"`
	ID      string            `json:"id"`
	Text    string            `json:"text"`
	Attrs   map[string]string `json:"attrs"`
	Visible bool              `json:"visible"`
}

// Attr возвращает значение атрибута или "".
func (e Element) Attr(name string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

type EventKind string

const (
	PointerEvent  EventKind = "pointer"
	MouseEvent    EventKind = "mouse"
	KeyboardEvent EventKind = "keyboard"
)

// Event - синтетическое событие для элемента.
type Event struct {
	Type string    `json:"type"`
	Kind EventKind `json:"kind"`
	Key  string    `json:"key,omitempty"`
}

// Page - то, что ядру нужно от вкладки браузера.
// Пустой ref - документ (Find, Observe) или body (Dispatch).
type Page interface {
	Find(ctx context.Context, scope, selector string) ([]Element, error)
	Describe(ctx context.Context, ref string) (Element, error)
	OuterHTML(ctx context.Context, ref string) (string, error)
	ScrollIntoView(ctx context.Context, ref string) error
	SupportsPointerEvents(ctx context.Context) (bool, error)
	Dispatch(ctx context.Context, ref string, ev Event) error
	SetValue(ctx context.Context, ref, value string) error
	Value(ctx context.Context, ref string) (string, error)
	// Observe присылает сигнал на каждую пачку мутаций поддерева ref (дети,
	// атрибуты, текст), пока не вызван stop.
	Observe(ctx context.Context, ref string) (<-chan struct{}, func(), error)
	URL(ctx context.Context) (string, error)
}

// Storage - ключ-значение в пределах origin и сессии вкладки.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// NormalizeText схлопывает пробелы и обрезает края.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
