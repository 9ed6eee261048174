package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"authtoken/internal/app"
	"authtoken/internal/config"
	"authtoken/internal/lib/handlers/slogpretty"
	"authtoken/internal/lib/sl"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	var cfg *config.Config
	if configPath != "" {
		cfg = config.LoadConfig(configPath)
	} else {
		cfg = config.MustLoad()
	}

	logger := setupLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(logger, cfg)

	err := run(ctx, application, flag.Args(), os.Stdout)

	if cerr := application.Close(context.Background()); cerr != nil {
		logger.Error("failed to close storage", sl.Err(cerr))
	}

	if err != nil {
		logger.Error("command failed", slog.String("command", flag.Arg(0)), sl.Err(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: tokens [-config path] <command> [flags]

commands:
  reset          -user ID [-email ADDR]   issue a password reset token
  check-reset    -token T                 print the owner of a live reset token
  consume-reset  -token T                 validate and clear a reset token
  verify-email   -user ID [-email ADDR]   issue an email verification token
  confirm-email  -token T                 confirm and clear a verification token
  issue          -user ID                 sign a new access/refresh pair
  refresh        -token T                 rotate a pair by its refresh token
  revoke         -user ID                 drop the access/refresh pair
  sweep          [-watch]                 clear expired reset/verification tokens
`)
	flag.PrintDefaults()
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		panic("unknown environment: " + env)
	}
	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}
	h := opts.NewPrettyHandler(os.Stderr)

	return slog.New(h)
}

// run executes the command named by args[0]. Results go to out, logs to the
// application logger.
func run(ctx context.Context, application *app.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given")
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}

	return cmd(ctx, application, args[1:], out)
}
