// Command webcore-serve is a minimal static-file server built on top of
// webcore, demonstrating the "incidental CLI" callout in the original
// spec's purpose section. Flag parsing follows the teacher stack's
// preference for github.com/spf13/pflag over the standard flag package.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/arcflux/webcore"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		addr        = pflag.StringP("addr", "a", "http://127.0.0.1:8080", "address to serve on, as a webcore.OpenServer URL")
		dir         = pflag.StringP("dir", "d", ".", "directory to serve at /")
		readTimeout = pflag.Duration("read-timeout", 60*time.Second, "per-request read timeout")
		verbose     = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	logCfg := zap.NewProductionConfig()
	if *verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Sync()

	srv, err := webcore.OpenServerWithOptions(*addr, webcore.Options{
		Logger:      logger.Named("webcore"),
		ReadTimeout: *readTimeout,
	})
	if err != nil {
		logger.Error("failed to open server", zap.Error(err))
		return 1
	}
	defer webcore.CloseServer(srv)

	if _, err := srv.AddFile("", "", "/", *dir); err != nil {
		logger.Error("failed to register file handler", zap.Error(err))
		return 1
	}
	if _, err := srv.AddStatic("", "text/plain; charset=utf-8", "/healthz", []byte("ok")); err != nil {
		logger.Error("failed to register health handler", zap.Error(err))
		return 1
	}

	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return 1
	}
	logger.Info("serving", zap.String("addr", *addr), zap.String("dir", *dir))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	<-sigc

	logger.Info("shutting down")
	srv.Stop()
	return 0
}
