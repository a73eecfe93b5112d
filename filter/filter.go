// Package filter хранит текст поиска панели между переоткрытиями.
package filter

import (
	"context"
	"fmt"

	"github.com/fffoivos/Amazon-lists/dom"
)

const DefaultKey = "amazon-lists:filter"

// Store лежит в sessionStorage вкладки: значение живёт, пока жива сессия
// для origin хоста.
type Store struct {
	storage dom.Storage
	key     string
}

func New(storage dom.Storage, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{storage: storage, key: key}
}

func (s *Store) Save(ctx context.Context, value string) error {
	if value == "" {
		return s.Clear(ctx)
	}
	if err := s.storage.SetItem(ctx, s.key, value); err != nil {
		return fmt.Errorf("save filter: %w", err)
	}
	return nil
}

// Restore возвращает сохранённый текст или "".
func (s *Store) Restore(ctx context.Context) (string, error) {
	v, ok, err := s.storage.GetItem(ctx, s.key)
	if err != nil {
		return "", fmt.Errorf("restore filter: %w", err)
	}
	if !ok {
		return "", nil
	}
	return v, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.storage.RemoveItem(ctx, s.key); err != nil {
		return fmt.Errorf("clear filter: %w", err)
	}
	return nil
}
