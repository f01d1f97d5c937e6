package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"

	"github.com/godispatch/offload/pkg/dispatch"
	"github.com/godispatch/offload/pkg/runner"
	"github.com/godispatch/offload/pkg/unit"
)

type config struct {
	listenAddr      string
	logLevel        string
	maxDecompressed flagext.Bytes
	printVersion    bool

	dispatch dispatch.Config
}

func (c *config) registerFlags(f *flag.FlagSet) {
	f.StringVar(&c.listenAddr, "http.listen-addr", ":8080", "Address to serve the task API and metrics on.")
	f.StringVar(&c.logLevel, "log.level", "info", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error].")
	_ = c.maxDecompressed.Set("256MiB")
	f.Var(&c.maxDecompressed, "runner.max-decompressed-size", "Largest output the decompress runner will produce before failing the task.")
	f.BoolVar(&c.printVersion, "version", false, "Print this build's version information.")
	c.dispatch.RegisterFlags(f)
}

func main() {
	var cfg config
	cfg.registerFlags(flag.CommandLine)
	flag.Parse()

	if cfg.printVersion {
		fmt.Println(version.Print("offloadd"))
		os.Exit(0)
	}

	logger, err := newLogger(cfg.logLevel)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	runners := runner.Default()
	runners.Register(dispatch.KindDecompress, runner.Decompress{MaxSize: int64(cfg.maxDecompressed)})
	runners.Register(dispatch.KindProcessBatch, runner.NewBatch(builtinTransforms()))

	dispatcher, err := dispatch.New(
		cfg.dispatch,
		unit.Factory(runners, logger),
		log.With(logger, "component", "dispatcher"),
		prometheus.DefaultRegisterer,
	)
	if err != nil {
		level.Error(logger).Log("msg", "failed to build dispatcher", "err", err)
		os.Exit(1)
	}
	if err := services.StartAndAwaitRunning(context.Background(), dispatcher); err != nil {
		level.Error(logger).Log("msg", "failed to start dispatcher", "err", err)
		os.Exit(1)
	}

	router := mux.NewRouter()
	srv := &server{dispatcher: dispatcher, logger: logger}
	srv.register(router)
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: cfg.listenAddr, Handler: router}
	go func() {
		level.Info(logger).Log("msg", "http server listening", "addr", cfg.listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(logger).Log("msg", "http server failed", "err", err)
			os.Exit(1)
		}
	}()

	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, syscall.SIGTERM, os.Interrupt)
	<-terminate

	level.Info(logger).Log("msg", "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		level.Warn(logger).Log("msg", "failed to drain http server", "err", err)
	}
	if err := services.StopAndAwaitTerminated(context.Background(), dispatcher); err != nil {
		level.Error(logger).Log("msg", "failed to stop dispatcher", "err", err)
		os.Exit(1)
	}
}

func newLogger(lvl string) (log.Logger, error) {
	var opt level.Option
	switch lvl {
	case "debug":
		opt = level.AllowDebug()
	case "info":
		opt = level.AllowInfo()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return nil, errors.Errorf("unrecognized log level %q", lvl)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, opt)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}

// builtinTransforms are the per-item batch transforms offloadd serves out of
// the box. They expect batches of strings.
func builtinTransforms() map[string]runner.TransformFunc {
	str := func(fn func(string) string) runner.TransformFunc {
		return func(item any) (any, error) {
			s, ok := item.(string)
			if !ok {
				return nil, errors.Errorf("expected string item, got %T", item)
			}
			return fn(s), nil
		}
	}
	return map[string]runner.TransformFunc{
		"upper": str(strings.ToUpper),
		"lower": str(strings.ToLower),
		"trim":  str(strings.TrimSpace),
	}
}
