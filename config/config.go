package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultUserDataDir = "./browser_data"
	DefaultStartURL    = "https://www.amazon.com"
	DefaultHTTPAddr    = "127.0.0.1:8088"
	DefaultRedisKey    = "amazon-lists:settings"
	DefaultNATSPrefix  = "amazonlists"
)

type Config struct {
	UserDataDir     string
	Headless        bool
	KeepBrowserOpen bool
	StartURL        string

	ProfilePath  string // пусто - встроенный профиль
	SettingsFile string
	RedisURL     string
	RedisKey     string
	NATSURL      string
	NATSPrefix   string
	HTTPAddr     string

	LogLevel string
	LogDev   bool

	MaxAttempts    int
	OpTimeout      time.Duration
	LocateTimeout  time.Duration
	ConfirmTimeout time.Duration
	OverlayTimeout time.Duration
}

// Load читает .env (если есть) и переменные окружения. Уже выставленные
// переменные окружения имеют приоритет над файлом.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	c := Config{
		UserDataDir:  str("BROWSER_USER_DATA_DIR", DefaultUserDataDir),
		StartURL:     str("START_URL", DefaultStartURL),
		ProfilePath:  str("PROFILE_PATH", ""),
		SettingsFile: str("SETTINGS_FILE", ""),
		RedisURL:     str("REDIS_URL", ""),
		RedisKey:     str("REDIS_SETTINGS_KEY", DefaultRedisKey),
		NATSURL:      str("NATS_URL", ""),
		NATSPrefix:   str("NATS_PREFIX", DefaultNATSPrefix),
		HTTPAddr:     str("HTTP_ADDR", DefaultHTTPAddr),
		LogLevel:     str("LOG_LEVEL", "info"),
	}

	var err error
	if c.Headless, err = boolean("HEADLESS", false); err != nil {
		return Config{}, err
	}
	if c.KeepBrowserOpen, err = boolean("KEEP_BROWSER_OPEN", false); err != nil {
		return Config{}, err
	}
	if c.LogDev, err = boolean("LOG_DEV", false); err != nil {
		return Config{}, err
	}
	if c.MaxAttempts, err = integer("MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if c.OpTimeout, err = duration("OP_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if c.LocateTimeout, err = duration("LOCATE_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if c.ConfirmTimeout, err = duration("CONFIRM_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if c.OverlayTimeout, err = duration("OVERLAY_TIMEOUT", 8*time.Second); err != nil {
		return Config{}, err
	}

	if c.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.SettingsFile != "" && c.RedisURL != "" {
		return Config{}, errors.New("SETTINGS_FILE and REDIS_URL are mutually exclusive")
	}

	if !filepath.IsAbs(c.UserDataDir) {
		abs, err := filepath.Abs(c.UserDataDir)
		if err != nil {
			return Config{}, fmt.Errorf("resolve browser data dir: %w", err)
		}
		c.UserDataDir = abs
	}
	return c, nil
}

// PrepareUserDataDir создаёт директорию профиля браузера и проверяет, что в неё можно писать.
func (c Config) PrepareUserDataDir() error {
	if err := os.MkdirAll(c.UserDataDir, 0o755); err != nil {
		return fmt.Errorf("create browser data dir %s: %w", c.UserDataDir, err)
	}
	marker := filepath.Join(c.UserDataDir, ".test_write")
	if err := os.WriteFile(marker, []byte("test"), 0o644); err != nil {
		return fmt.Errorf("browser data dir %s is not writable: %w", c.UserDataDir, err)
	}
	return os.Remove(marker)
}

// SharesChromeProfile сообщает, что указана стандартная директория Chrome.
func (c Config) SharesChromeProfile() bool {
	local := os.Getenv("LOCALAPPDATA")
	if local == "" {
		return false
	}
	return c.UserDataDir == filepath.Join(local, "Google", "Chrome", "User Data")
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func boolean(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func integer(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
