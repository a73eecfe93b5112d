package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fffoivos/Amazon-lists/agent"
	"github.com/fffoivos/Amazon-lists/api"
	"github.com/fffoivos/Amazon-lists/config"
	"github.com/fffoivos/Amazon-lists/logging"
)

type cli struct {
	cfg config.Config
	log *zap.Logger

	headless bool
	profile  string
	logLevel string
	startURL string
	httpAddr string
	keepOpen bool
	envFile  string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return (&cli{}).rootCommand()
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "amazon-lists",
		Short:         "Add the current Amazon item to your lists from a real browser tab",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&c.envFile, "env-file", "", "env file to load instead of ./.env")
	f.BoolVar(&c.headless, "headless", false, "run Chrome headless (HEADLESS)")
	f.StringVar(&c.profile, "profile", "", "host profile yaml (PROFILE_PATH)")
	f.StringVar(&c.logLevel, "log-level", "", "debug, info, warn, error (LOG_LEVEL)")
	f.StringVar(&c.startURL, "url", "", "page to open first (START_URL)")
	f.BoolVar(&c.keepOpen, "keep-open", false, "leave the browser running on exit (KEEP_BROWSER_OPEN)")

	serve := c.serveCommand()
	serve.Flags().StringVar(&c.httpAddr, "addr", "", "listen address (HTTP_ADDR)")

	root.AddCommand(
		serve,
		c.interactiveCommand(),
		c.listsCommand(),
		c.addCommand(),
		c.createCommand(),
	)
	return root
}

// setup собирает конфиг: .env, затем окружение, затем флаги.
func (c *cli) setup(cmd *cobra.Command) error {
	var files []string
	if c.envFile != "" {
		files = append(files, c.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("headless") {
		cfg.Headless = c.headless
	}
	if flags.Changed("profile") {
		cfg.ProfilePath = c.profile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if flags.Changed("url") {
		cfg.StartURL = c.startURL
	}
	if flags.Changed("keep-open") {
		cfg.KeepBrowserOpen = c.keepOpen
	}
	if flags.Changed("addr") {
		cfg.HTTPAddr = c.httpAddr
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	c.cfg, c.log = cfg, log
	return nil
}

// start поднимает браузер и открывает стартовую страницу.
func (c *cli) start(ctx context.Context) (*app, error) {
	if c.cfg.SharesChromeProfile() {
		fmt.Println("⚠️  ВНИМАНИЕ: Используется стандартная директория Chrome!")
		fmt.Println("   Убедитесь, что Chrome полностью закрыт перед запуском.")
		fmt.Println()
	}
	fmt.Printf("📁 Директория браузера: %s\n", c.cfg.UserDataDir)
	fmt.Println("🌐 Запуск браузера...")

	a, err := newApp(ctx, c.cfg, c.log)
	if err != nil {
		return nil, fmt.Errorf("не удалось запустить: %w", err)
	}
	fmt.Println("✅ Браузер запущен")
	if c.cfg.KeepBrowserOpen {
		fmt.Println("ℹ️  Браузер останется открытым после завершения программы")
	}

	if c.cfg.StartURL != "" {
		fmt.Printf("🌐 Переход на страницу: %s\n", c.cfg.StartURL)
		if err := a.browser.Navigate(ctx, c.cfg.StartURL); err != nil {
			fmt.Printf("⚠️  Не удалось открыть страницу: %v\n", err)
		} else {
			fmt.Println("✅ Страница загружена")
		}
	}
	return a, nil
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and follow the tab for item changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.start(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := api.New(a.ctrl, a.reg, c.log.Named("api"))
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(gctx, c.cfg.HTTPAddr)
			})
			g.Go(func() error {
				return a.ctrl.Watch(gctx, agent.DefaultWatchOptions())
			})
			fmt.Printf("🚀 API: http://%s\n", c.cfg.HTTPAddr)

			err = g.Wait()
			fmt.Println("\n🛑 Завершение работы...")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func (c *cli) listsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Open the Add to List panel and print the collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.once(cmd, func(ctx context.Context, a *app) agent.Result {
				res := a.ctrl.RequestCollections(ctx)
				if res.Success {
					printRecords(a.ctrl.Session())
				}
				return res
			})
		},
	}
}

func (c *cli) addCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <collection-id>",
		Short: "Add the current item to a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.once(cmd, func(ctx context.Context, a *app) agent.Result {
				return a.ctrl.AddToCollection(ctx, args[0])
			})
		},
	}
}

func (c *cli) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			return c.once(cmd, func(ctx context.Context, a *app) agent.Result {
				return a.ctrl.CreateCollection(ctx, name)
			})
		},
	}
}

// once выполняет одну операцию и возвращает ошибку, если она не удалась.
func (c *cli) once(cmd *cobra.Command, op func(context.Context, *app) agent.Result) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := c.start(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res := op(ctx, a)
	printResult(res)
	if !res.Success {
		return fmt.Errorf("operation failed: %s", res.Error)
	}
	return nil
}

func printResult(res agent.Result) {
	if res.Success {
		msg := "✅ Готово"
		if res.ListCount != nil {
			msg += fmt.Sprintf(" (списков: %d)", *res.ListCount)
		}
		if res.Attempts > 1 {
			msg += fmt.Sprintf(", попыток: %d", res.Attempts)
		}
		fmt.Println(msg)
		return
	}
	fmt.Printf("❌ Не удалось: %s\n", res.Error)
	if hint := hints[res.Error]; hint != "" {
		fmt.Printf("   %s\n", hint)
	}
}

// Подсказки для ручного продолжения.
var hints = map[string]string{
	agent.ReasonNotOnTargetPage:     "Откройте страницу товара и повторите.",
	agent.ReasonTriggerNotFound:     "Кнопка \"Add to List\" не найдена, добавьте товар вручную.",
	agent.ReasonOverlayOpenTimeout:  "Панель списков не открылась, попробуйте вручную.",
	agent.ReasonTargetNotFound:      "Список не найден в панели, обновите список командой lists.",
	agent.ReasonConfirmationTimeout: "Нет подтверждения, проверьте список вручную.",
	agent.ReasonNavigation:          "Страница сменилась во время операции.",
}

func printRecords(s agent.Session) {
	if s.Item.Identifier != "" {
		fmt.Printf("📦 Товар: %s %s\n", s.Item.Identifier, s.Item.Title)
	}
	if len(s.Records) == 0 {
		fmt.Println("📭 Списков нет")
		return
	}
	fmt.Println("📋 Списки:")
	for _, r := range s.Records {
		if r.Privacy != "" {
			fmt.Printf("   • %s  %s (%s)\n", r.ID, r.Name, r.Privacy)
		} else {
			fmt.Printf("   • %s  %s\n", r.ID, r.Name)
		}
	}
}
