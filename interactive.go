package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fffoivos/Amazon-lists/agent"
)

type command struct {
	name string
	arg  string
}

// parseCommand разбирает строку ввода. Русские синонимы приводятся к английским.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	name, arg, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	switch name {
	case "quit", "выход":
		name = "exit"
	case "помощь", "справка":
		name = "help"
	case "списки":
		name = "lists"
	case "добавить":
		name = "add"
	case "создать":
		name = "create"
	case "перейти":
		name = "goto"
	case "состояние":
		name = "state"
	}
	return command{name: name, arg: strings.TrimSpace(arg)}
}

func (c *cli) interactiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Drive the browser tab from a console prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.repl(cmd.Context())
		},
	}
}

func (c *cli) repl(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Println("🚀 Инициализация...")
	a, err := c.start(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	go func() {
		if err := a.ctrl.Watch(ctx, agent.DefaultWatchOptions()); err != nil && ctx.Err() == nil {
			fmt.Printf("⚠️  Слежение за вкладкой остановлено: %v\n", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		if _, ok := <-sigChan; !ok {
			return
		}
		fmt.Println("\n\n🛑 Получен сигнал завершения (Ctrl+C)...")
		if !c.cfg.KeepBrowserOpen {
			fmt.Println("   Браузер будет закрыт...")
		} else {
			fmt.Println("   Браузер останется открытым")
		}
		cancel()
		a.Close()
		os.Exit(0)
	}()

	printBanner()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Printf("\n❌ Ошибка при чтении ввода: %v\n", err)
			} else {
				fmt.Println("\n⚠️  Ввод завершен (EOF) - stdin закрыт")
			}
			break
		}

		cmd := parseCommand(scanner.Text())
		if cmd.name == "" {
			continue
		}
		if cmd.name == "exit" {
			fmt.Println("👋 До свидания!")
			break
		}
		c.exec(ctx, a, cmd)
	}

	if !c.cfg.KeepBrowserOpen {
		fmt.Println("   Закрываем браузер...")
	} else {
		fmt.Println("   Браузер останется открытым")
	}
	return nil
}

func (c *cli) exec(ctx context.Context, a *app, cmd command) {
	start := time.Now()
	var res agent.Result
	switch cmd.name {
	case "help":
		printHelp()
		return
	case "state":
		s := a.ctrl.Session()
		fmt.Printf("📍 Состояние: %s", s.State)
		if s.Reason != "" {
			fmt.Printf(" (%s)", s.Reason)
		}
		fmt.Println()
		printRecords(s)
		return
	case "goto":
		if cmd.arg == "" {
			fmt.Println("⚠️  Укажите адрес: goto <url>")
			return
		}
		fmt.Printf("🌐 Переход: %s\n", cmd.arg)
		if err := a.browser.Navigate(ctx, cmd.arg); err != nil {
			fmt.Printf("❌ Ошибка навигации: %v\n", err)
			return
		}
		fmt.Println("✅ Страница загружена")
		return
	case "lists":
		res = a.ctrl.RequestCollections(ctx)
		if res.Success {
			printRecords(a.ctrl.Session())
		}
	case "add":
		if cmd.arg == "" {
			fmt.Println("⚠️  Укажите id списка: add <id>")
			return
		}
		res = a.ctrl.AddToCollection(ctx, cmd.arg)
	case "create":
		if cmd.arg == "" {
			fmt.Println("⚠️  Укажите название: create <name>")
			return
		}
		res = a.ctrl.CreateCollection(ctx, cmd.arg)
	default:
		fmt.Printf("❓ Неизвестная команда %q, введите help\n", cmd.name)
		return
	}
	printResult(res)
	fmt.Printf("⏱️  Время выполнения: %v\n", time.Since(start).Round(time.Millisecond))
}

func printBanner() {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("🤖 Готово к работе!")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("\n📝 Откройте страницу товара и введите команду.")
	fmt.Println("   help / помощь - показать справку")
	fmt.Println("   exit / quit / выход - завершить работу")
	fmt.Println(strings.Repeat("=", 60))
}

func printHelp() {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("📖 Справка")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("   lists / списки          - открыть панель и показать списки")
	fmt.Println("   add <id> / добавить     - добавить товар в список")
	fmt.Println("   create <name> / создать - создать новый список")
	fmt.Println("   goto <url> / перейти    - открыть страницу")
	fmt.Println("   state / состояние       - текущее состояние")
	fmt.Println("   help / помощь           - эта справка")
	fmt.Println("   exit / quit / выход     - завершить работу")
	fmt.Println("\n💡 id списка показывает команда lists.")
	fmt.Println(strings.Repeat("=", 60))
}
