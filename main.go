package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/SairamVarma07/Vytara-AI-Frontend/apiclient"
	"github.com/SairamVarma07/Vytara-AI-Frontend/tui"
)

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	cfg, args, err := loadConfig(os.Args[1:], env.Options{}, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if isTTY() {
		// Log lines would tear the TUI, so they only go to LOG_FILE.
		log, closeLog := fileLogger(cfg)
		defer closeLog()

		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner(cfg.ServerURL)
		runErr := run(d, cfg, args, log, os.Stdin, os.Stdout)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			closeLog()
			os.Exit(exitCode(runErr))
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner(cfg.ServerURL)
		log := newLogger(os.Stderr, cfg.LogLevel)
		if err := run(d, cfg, args, log, os.Stdin, os.Stdout); err != nil {
			os.Exit(exitCode(err))
		}
	}
}

// exitCode is 2 for invalid input and 1 for any other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, apiclient.ErrValidation):
		return 2
	default:
		return 1
	}
}

// fileLogger writes JSON logs to LOG_FILE, or discards them when it is unset.
func fileLogger(cfg *Config) (zerolog.Logger, func()) {
	if cfg.LogFile == "" {
		return zerolog.Nop(), func() {}
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return zerolog.Nop(), func() {}
	}
	lvl, _ := zerolog.ParseLevel(cfg.LogLevel)
	var once sync.Once
	return zerolog.New(f).Level(lvl).With().Timestamp().Logger(),
		func() { once.Do(func() { _ = f.Close() }) }
}

// run executes the sub-command in args and reports its outcome through d.
func run(
	d tui.Displayer,
	cfg *Config,
	args []string,
	log zerolog.Logger,
	stdin io.Reader,
	stdout io.Writer,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) == 0 {
		err := errors.New("no command given, run `vytara -h` for usage")
		d.Fatal(err)
		return err
	}
	cmd, ok := findCommand(args[0])
	if !ok {
		err := fmt.Errorf("unknown command %q, run `vytara -h` for usage", args[0])
		d.Fatal(err)
		return err
	}

	if cfg.isPlaintext() {
		d.Warning("Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!")
	}

	a, err := newApp(ctx, cfg, d, log, stdin, stdout)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer a.close()

	err = cmd.run(ctx, a, args[1:])
	a.report(err)
	return err
}
