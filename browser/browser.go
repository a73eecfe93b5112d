package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/retry"
)

// mutationBinding - имя функции в window, через которую наблюдатели сообщают о мутациях.
const mutationBinding = "__wlMutation"

const DefaultOpTimeout = 10 * time.Second

var ErrClosed = errors.New("browser context was canceled")

// Сообщения chromedp, которые не несут смысла и только засоряют лог.
var ignorePatterns = []string{
	"could not unmarshal event",
	"unexpected end of JSON input",
	"unknown IPAddressSpace value",
	"unknown PrivateNetworkRequestPolicy value",
	"parse error",
	"cookiePart",
}

type Options struct {
	UserDataDir string
	Headless    bool
	OpTimeout   time.Duration // на один вызов в страницу
	Log         *zap.Logger
}

type Browser struct {
	ctx             context.Context
	cancel          context.CancelFunc
	allocCtx        context.Context
	allocCancel     context.CancelFunc
	keepAlive       context.Context
	keepAliveCancel context.CancelFunc

	opTimeout time.Duration
	log       *zap.Logger

	obsMu     sync.Mutex
	observers map[string]chan struct{}
	obsSeq    uint64
}

func NewBrowser(o Options) (*Browser, error) {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = DefaultOpTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-gpu", false),
		chromedp.Flag("disable-dev-shm-usage", false),
		chromedp.Flag("no-sandbox", false),
		chromedp.UserDataDir(o.UserDataDir),
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("profile-directory", "Default"),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-features", "VizDisplayCompositor,TranslateUI"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	logf := chromeLogf(o.Log)
	ctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logf), chromedp.WithErrorf(logf))

	keepAliveCtx, keepAliveCancel := context.WithCancel(context.Background())

	b := &Browser{
		ctx:             ctx,
		cancel:          cancel,
		allocCtx:        allocCtx,
		allocCancel:     allocCancel,
		keepAlive:       keepAliveCtx,
		keepAliveCancel: keepAliveCancel,
		opTimeout:       o.OpTimeout,
		log:             o.Log,
		observers:       make(map[string]chan struct{}),
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == mutationBinding {
			b.notify(e.Payload)
		}
	})

	if err := chromedp.Run(ctx,
		runtime.AddBinding(mutationBinding),
		chromedp.Navigate("about:blank"),
		chromedp.WaitVisible("body", chromedp.ByQuery),
	); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w\n\nВозможные причины:\n- Chrome/Chromium не установлен\n- Chrome заблокирован антивирусом\n- Недостаточно прав для запуска\n- Директория браузера занята другим процессом\n\nУстановите Chrome или Chromium: https://www.google.com/chrome/", err)
	}

	go b.keepAliveLoop()

	return b, nil
}

// Navigate открывает url и ждёт появления body.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	if err := b.alive(); err != nil {
		return err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") && strings.Contains(url, ".") {
		url = "https://" + url
	}

	tctx, cancel := b.scoped(ctx, 3*b.opTimeout)
	defer cancel()
	if err := chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitVisible("body", chromedp.ByQuery),
	); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w during navigation: %v", ErrClosed, err)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// URL читает адрес страницы, с одной повторной попыткой: во время
// навигации вызов иногда теряется.
func (b *Browser) URL(ctx context.Context) (string, error) {
	return retry.Do(ctx, retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Second,
		ShouldRetry: func(error, int) bool { return b.alive() == nil },
	}, func(ctx context.Context, _ int) (string, error) {
		if err := b.alive(); err != nil {
			return "", err
		}
		var url string
		tctx, cancel := b.scoped(ctx, b.opTimeout)
		defer cancel()
		if err := chromedp.Run(tctx, chromedp.Evaluate("window.location.href", &url)); err != nil {
			return "", fmt.Errorf("read url: %w", err)
		}
		return url, nil
	})
}

func (b *Browser) keepAliveLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.keepAlive.Done():
			return
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			// Таймауты тут не критичны, просто продолжаем
			if _, err := b.URL(b.keepAlive); err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				b.log.Debug("keep-alive check failed", zap.Error(err))
			}
		}
	}
}

func (b *Browser) Close() error {
	b.keepAliveCancel()
	b.cancel()
	b.allocCancel()
	return nil
}

func (b *Browser) alive() error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("%w - браузер недоступен", ErrClosed)
	default:
		return nil
	}
}

// scoped даёт контекст вкладки с таймаутом, который отменяется вместе с ctx вызывающего.
func (b *Browser) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(b.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func chromeLogf(log *zap.Logger) func(string, ...interface{}) {
	return func(format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		if ignoredLog(msg) {
			return
		}
		log.Debug("chromedp", zap.String("msg", msg))
	}
}

func ignoredLog(msg string) bool {
	for _, p := range ignorePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
