package settings

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// File читает настройки из yaml/json/toml и следит за правками файла.
type File struct {
	*values
	v   *viper.Viper
	log *zap.Logger
}

func NewFile(path string, log *zap.Logger) (*File, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	f := &File{values: newValues(), v: v, log: log}
	f.load()
	v.OnConfigChange(func(e fsnotify.Event) {
		f.log.Info("settings file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		f.load()
	})
	v.WatchConfig()
	return f, nil
}

func (f *File) load() {
	seen := make(map[string]bool)
	for _, k := range f.v.AllKeys() {
		seen[k] = true
		f.set(k, f.v.GetBool(k))
	}

	// Удалённые из файла ключи становятся false.
	f.mu.RLock()
	var gone []string
	for k := range f.vals {
		if !seen[k] {
			gone = append(gone, k)
		}
	}
	f.mu.RUnlock()
	for _, k := range gone {
		f.set(k, false)
	}
}
