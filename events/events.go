// Package events - уведомления для UI без ожидания ответа. Доставка без
// гарантий: ошибки пишутся в лог и не возвращаются.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/extract"
	"github.com/fffoivos/Amazon-lists/item"
)

type Type string

const (
	CollectionsUpdated Type = "collectionsUpdated"
	ItemContextChanged Type = "itemContextChanged"
)

type Event struct {
	ID      string           `json:"id"`
	Type    Type             `json:"type"`
	Time    time.Time        `json:"time"`
	Records []extract.Record `json:"records,omitempty"`
	Item    item.Context     `json:"item"`
}

func NewCollectionsUpdated(records []extract.Record, it item.Context) Event {
	return Event{ID: uuid.NewString(), Type: CollectionsUpdated, Time: time.Now().UTC(), Records: records, Item: it}
}

func NewItemContextChanged(it item.Context) Event {
	return Event{ID: uuid.NewString(), Type: ItemContextChanged, Time: time.Now().UTC(), Item: it}
}

type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Log пишет события в структурный лог.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) Emit(_ context.Context, ev Event) {
	l.log.Info("event",
		zap.String("id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("item", ev.Item.Identifier),
		zap.Int("records", len(ev.Records)),
	)
}

// Multi рассылает событие нескольким получателям по порядку.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, ev)
		}
	}
}
