// tracker 是访问追踪客户端的命令行版本，用于回放一串页面访问并上报到服务端。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/foliotrack/internal/logging"
	"github.com/foliotrack/internal/tracker"
	"github.com/foliotrack/internal/visit"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var (
		server    = pflag.StringP("server", "s", "http://localhost:8080", "base URL of the tracking server")
		statePath = pflag.String("state", ".foliotrack/tracker.json", "file used to persist the session id between runs")
		name      = pflag.String("name", "", "visitor name reported with each batch")
		email     = pflag.String("email", "", "visitor email reported with each batch")
		delay     = pflag.Duration("delay", 0, "pause between page visits")
		interval  = pflag.Duration("interval", 5*time.Second, "flush interval")
		logLevel  = pflag.String("log-level", "info", "log level")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tracker [flags] <url> [path...]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	logger, err := logging.New(*logLevel, "development")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, *server, *statePath, *name, *email, *delay, *interval, pflag.Args()); err != nil {
		logger.Fatal("tracker failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, server, statePath, name, email string, delay, interval time.Duration, pages []string) error {
	store, err := tracker.NewFileStore(statePath)
	if err != nil {
		return err
	}
	identity := tracker.NewIdentityStore(store, nil)
	if name != "" || email != "" {
		if err := identity.SetUserIdentity(visit.NormalizeIdentity(visit.Identity{"name": name, "email": email})); err != nil {
			return err
		}
	}

	t := tracker.New(identity, tracker.NewHTTPTransport(server, nil),
		tracker.WithLogger(logging.WithComponent(logger, "tracker")),
		tracker.WithInterval(interval),
		tracker.WithDeviceInfo(visit.DeviceInfo{UserAgent: "foliotrack-cli/1.0", Language: os.Getenv("LANG")}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		t.Run(runCtx)
		close(done)
	}()

	first := pages[0]
	if !strings.Contains(first, "://") {
		first = strings.TrimRight(server, "/") + "/" + strings.TrimLeft(first, "/")
	}
	if err := t.LoadPage(first); err != nil {
		cancelRun()
		<-done
		return err
	}

	for _, page := range pages[1:] {
		if delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			break
		}
		t.Navigate(page)
	}

	cancelRun()
	<-done
	logger.Info("replay finished", zap.String("session_id", t.SessionID()), zap.Int("pages", len(pages)))
	return nil
}
