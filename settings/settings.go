// Package settings - доступ к внешнему хранилищу настроек. Ядро только читает
// булевы значения и слушает изменения.
package settings

import (
	"slices"
	"strings"
	"sync"
)

// KeyPersistFilter: true - сохранять текст поиска панели после добавления.
const KeyPersistFilter = "persistFilterAfterClick"

type Provider interface {
	Bool(key string) bool
	OnChange(key string, fn func(bool))
}

// Ключи без учёта регистра, как в viper.
func norm(key string) string { return strings.ToLower(key) }

type values struct {
	mu   sync.RWMutex
	vals map[string]bool
	fns  map[string][]func(bool)
}

func newValues() *values {
	return &values{vals: make(map[string]bool), fns: make(map[string][]func(bool))}
}

func (v *values) Bool(key string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.vals[norm(key)]
}

func (v *values) OnChange(key string, fn func(bool)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := norm(key)
	v.fns[k] = append(v.fns[k], fn)
}

// set сохраняет значение и, если оно изменилось, зовёт слушателей вне блокировки.
func (v *values) set(key string, val bool) {
	k := norm(key)
	v.mu.Lock()
	old := v.vals[k]
	v.vals[k] = val
	fns := slices.Clone(v.fns[k])
	v.mu.Unlock()

	if old == val {
		return
	}
	for _, fn := range fns {
		fn(val)
	}
}

// Static - настройки в памяти для CLI и тестов.
type Static struct {
	*values
}

func NewStatic(initial map[string]bool) *Static {
	s := &Static{values: newValues()}
	for k, v := range initial {
		s.vals[norm(k)] = v
	}
	return s
}

func (s *Static) Set(key string, val bool) { s.set(key, val) }
