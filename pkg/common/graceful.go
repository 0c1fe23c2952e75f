package common

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownHook runs after a termination signal and before the debug server
// shuts down. A failing hook is logged and shutdown continues.
type ShutdownHook func(ctx context.Context) error

// RunServerWithShutdown starts server and blocks until ctx is done or SIGINT
// or SIGTERM arrives. Hooks then run in order, each with hookTimeout inside
// the overall shutdownTimeout, and finally the server is shut down.
func RunServerWithShutdown(ctx context.Context, logger *zap.Logger, server *http.Server, name string, shutdownTimeout, hookTimeout time.Duration, hooks ...ShutdownHook) error {
	if hookTimeout <= 0 {
		hookTimeout = 5 * time.Second
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("name", name), zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err, ok := <-listenErr:
		if ok {
			logger.Error("listen failed", zap.String("name", name), zap.Error(err))
			hookCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			runHooks(hookCtx, logger, hookTimeout, hooks)
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown requested", zap.String("name", name))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	runHooks(shutdownCtx, logger, hookTimeout, hooks)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.String("name", name), zap.Error(err))
		return err
	}
	logger.Info("shutdown complete", zap.String("name", name))
	return nil
}

func runHooks(ctx context.Context, logger *zap.Logger, hookTimeout time.Duration, hooks []ShutdownHook) {
	for i, h := range hooks {
		if h == nil {
			continue
		}
		hCtx, hCancel := context.WithTimeout(ctx, hookTimeout)
		if err := h(hCtx); err != nil {
			logger.Warn("shutdown hook failed", zap.Int("hook", i), zap.Error(err))
		}
		if errors.Is(hCtx.Err(), context.DeadlineExceeded) {
			logger.Warn("shutdown hook timed out", zap.Int("hook", i))
		}
		hCancel()
	}
}

// TimeoutConfig holds the debug server timeouts.
type TimeoutConfig struct {
	ReadHeader time.Duration
	Read       time.Duration
	Write      time.Duration
	Idle       time.Duration
	Shutdown   time.Duration
	Hook       time.Duration
}

// LoadTimeoutConfig overrides defaults from the environment. Values are whole
// seconds, anything unparsable or not positive keeps the default.
//
//	READ_HEADER_TIMEOUT
//	READ_TIMEOUT
//	WRITE_TIMEOUT
//	IDLE_TIMEOUT
//	SHUTDOWN_TIMEOUT
//	HOOK_TIMEOUT
func LoadTimeoutConfig(defaults TimeoutConfig) TimeoutConfig {
	applySeconds(&defaults.ReadHeader, "READ_HEADER_TIMEOUT")
	applySeconds(&defaults.Read, "READ_TIMEOUT")
	applySeconds(&defaults.Write, "WRITE_TIMEOUT")
	applySeconds(&defaults.Idle, "IDLE_TIMEOUT")
	applySeconds(&defaults.Shutdown, "SHUTDOWN_TIMEOUT")
	applySeconds(&defaults.Hook, "HOOK_TIMEOUT")
	return defaults
}

func applySeconds(curr *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*curr = time.Duration(n) * time.Second
		}
	}
}

func NewServerWithTimeouts(base *http.Server, cfg TimeoutConfig) *http.Server {
	if base == nil {
		base = &http.Server{}
	}
	base.ReadHeaderTimeout = cfg.ReadHeader
	base.ReadTimeout = cfg.Read
	base.WriteTimeout = cfg.Write
	base.IdleTimeout = cfg.Idle
	return base
}
