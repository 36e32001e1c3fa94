// Command itdrive is the terminal client for the carpool API.
//
//	itdrive [--api-url URL] [--token JWT] <command> [flags] [args]
//
// Output is JSON on stdout; logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/example/itdrive/internal/apiclient"
	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/config"
	"github.com/example/itdrive/internal/lifecycle"
	"github.com/example/itdrive/internal/logging"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var errUsage = errors.New("usage")

type app struct {
	cfg    config.ClientConfig
	client *apiclient.Client
	logger *slog.Logger
	out    io.Writer
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"register":  {"register --email E --password P --first F --last L [--role DRIVER]", cmdRegister},
	"login":     {"login --email E --password P", cmdLogin},
	"buildings": {"buildings [--lat N --lon N [--limit N]]", cmdBuildings},
	"search":    {"search [--from ID] [--to ID] [--max-price N]", cmdSearch},
	"trip":      {"trip show|start|complete|cancel|bookings TRIP_ID | trip create --from ID --to ID --seats N --price N | trip driver USER_ID", cmdTrip},
	"book":      {"book TRIP_ID [--seats N] [--payment CASH|CARD]", cmdBook},
	"booking":   {"booking show|cancel|confirm BOOKING_ID", cmdBooking},
	"review":    {"review BOOKING_ID --rating 1-5 [--comment TEXT] | review BOOKING_ID --check", cmdReview},
	"reviews":   {"reviews USER_ID", cmdReviews},
	"route":     {"route TRIP_ID", cmdRoute},
	"watch":     {"watch TRIP_ID", cmdWatch},
	"popular":   {"popular [--limit N]", cmdPopular},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("itdrive", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	apiURL := fs.String("api-url", "", "API base URL (overrides API_URL)")
	token := fs.String("token", "", "bearer token (overrides API_TOKEN)")
	logLevel := fs.String("log-level", "", "log level (overrides LOG_LEVEL)")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := config.LoadClientConfig()
	if err != nil {
		fmt.Fprintln(stderr, "invalid configuration:", err)
		return exitError
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}
	if *token != "" {
		cfg.APIToken = *token
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger := logging.NewLoggerTo(stderr, cfg.LogLevel)

	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr, fs)
		return exitUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		usage(stderr, fs)
		return exitUsage
	}

	a := &app{
		cfg: cfg,
		client: apiclient.New(cfg.APIURL,
			apiclient.WithToken(cfg.APIToken),
			apiclient.WithLogger(logger),
			apiclient.OnLogout(func() { logger.Info("session ended, log in again") }),
		),
		logger: logger,
		out:    stdout,
	}
	if err := cmd.run(ctx, a, rest[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, "usage: itdrive", cmd.usage)
			return exitUsage
		}
		logger.Debug("command failed", "command", rest[0], "error", err)
		fmt.Fprintln(stderr, "error:", apperr.UserMessage(err))
		return exitError
	}
	return exitOK
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: itdrive [flags] <command> [args]")
	fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintln(w, "  "+commands[n].usage)
	}
	fmt.Fprintln(w, "\nflags:")
	fmt.Fprint(w, fs.FlagUsages())
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// manager builds a lifecycle manager for the logged-in user.
func (a *app) manager() (*lifecycle.Manager, error) {
	me, ok := a.client.Principal()
	if !ok || !a.client.Authenticated() {
		return nil, apperr.Auth("please log in first")
	}
	return lifecycle.New(a.client, me, a.logger), nil
}

// parseID reads the single positional id a command expects.
func parseID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errUsage
	}
	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || v <= 0 {
		return 0, apperr.Validation(fmt.Sprintf("%q is not a valid id", args[0]))
	}
	return v, nil
}

func flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parse turns flag errors into usage errors.
func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}
