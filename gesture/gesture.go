// Package gesture превращает клик в полную последовательность событий указателя:
// обработчики хоста часто висят только на down/up.
package gesture

import (
	"context"

	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/dom"
)

// ClickSequence отправляется Click по порядку. Pointer-события пропускаются,
// если их нет в среде.
var ClickSequence = []dom.Event{
	{Type: "pointerenter", Kind: dom.PointerEvent},
	{Type: "mouseenter", Kind: dom.MouseEvent},
	{Type: "pointerdown", Kind: dom.PointerEvent},
	{Type: "mousedown", Kind: dom.MouseEvent},
	{Type: "pointerup", Kind: dom.PointerEvent},
	{Type: "mouseup", Kind: dom.MouseEvent},
	{Type: "click", Kind: dom.MouseEvent},
}

type Simulator struct {
	page dom.Page
	log  *zap.Logger
}

func New(page dom.Page, log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{page: page, log: log}
}

// Click прокручивает ref в видимую область и отправляет ClickSequence.
// Вместо ошибки возвращает false, вызывающий решает сам, повторять ли.
func (s *Simulator) Click(ctx context.Context, ref string) bool {
	if ref == "" {
		return false
	}
	if err := s.page.ScrollIntoView(ctx, ref); err != nil {
		s.log.Debug("scroll into view failed", zap.String("ref", ref), zap.Error(err))
		return false
	}
	return s.dispatch(ctx, ref)
}

// ClickBackground кликает по body, это закрывает большинство всплывающих окон.
func (s *Simulator) ClickBackground(ctx context.Context) bool {
	return s.dispatch(ctx, "")
}

// PressKey отправляет keydown и keyup в ref ("" - body).
func (s *Simulator) PressKey(ctx context.Context, ref, key string) bool {
	for _, typ := range []string{"keydown", "keyup"} {
		if err := s.page.Dispatch(ctx, ref, dom.Event{Type: typ, Kind: dom.KeyboardEvent, Key: key}); err != nil {
			s.log.Debug("key dispatch failed", zap.String("key", key), zap.Error(err))
			return false
		}
	}
	return true
}

func (s *Simulator) dispatch(ctx context.Context, ref string) bool {
	pointer, err := s.page.SupportsPointerEvents(ctx)
	if err != nil {
		pointer = false
	}
	for _, ev := range ClickSequence {
		if ev.Kind == dom.PointerEvent && !pointer {
			continue
		}
		if err := s.page.Dispatch(ctx, ref, ev); err != nil {
			s.log.Debug("event dispatch failed", zap.String("ref", ref), zap.String("event", ev.Type), zap.Error(err))
			return false
		}
	}
	return true
}
