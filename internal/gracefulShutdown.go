package internal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type GracefulShutdownHandler interface {
	Shutdown()          // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool // Quickly checks if a shutdown is in progress.
	Wait()              // Blocks until shutdown tasks are complete.
}

type gracefulShutdown struct {
	quit         chan os.Signal // Receives SIGTERM/SIGINT or a programmatic shutdown.
	shuttingDown chan bool      // Indicates if a shutdown is happening.
	wg           sync.WaitGroup // Waits until all shutdown tasks are complete.
	timeout      time.Duration
	exit         func(code int)
}

// ShutdownTimeout bounds the onShutdown callback. Kubernetes sends SIGTERM 30 seconds before killing the pod.
const ShutdownTimeout = 30 * time.Second

// NewGracefulShutdown calls onShutdown once SIGINT or SIGTERM is received (or Shutdown is called)
// and exits the process afterwards. onShutdown gets a context that expires after ShutdownTimeout.
func NewGracefulShutdown(onShutdown func(ctx context.Context) error) GracefulShutdownHandler {
	return newGracefulShutdown(onShutdown, ShutdownTimeout, os.Exit)
}

func newGracefulShutdown(onShutdown func(ctx context.Context) error, timeout time.Duration, exit func(code int)) *gracefulShutdown {
	gs := &gracefulShutdown{
		quit:         make(chan os.Signal, 1),
		shuttingDown: make(chan bool, 1),
		timeout:      timeout,
		exit:         exit,
	}
	gs.wg.Add(1)
	signal.Notify(gs.quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer gs.wg.Done()
		sig := <-gs.quit
		signal.Stop(gs.quit)
		gs.shuttingDown <- true
		zap.S().Infow("Received signal, shutting down", "signal", sig.String())
		if onShutdown == nil {
			zap.S().Info("Shutdown tasks completed. Ready to exit.")
			gs.exit(0)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
		defer cancel()
		zap.S().Infow("Waiting for shutdown tasks to complete", "timeout", gs.timeout)

		done := make(chan error, 1)
		go func() {
			done <- onShutdown(ctx)
		}()

		select {
		case err := <-done:
			if err != nil {
				zap.S().Errorw("Error during shutdown", "error", err)
				_ = zap.S().Sync()
				gs.exit(1)
				return
			}
		case <-ctx.Done():
			zap.S().Errorw("Shutdown tasks did not complete in time", "timeout", gs.timeout)
			// Flush buffer
			_ = zap.S().Sync()
			gs.exit(1)
			return
		}
		zap.S().Info("Shutdown tasks completed. Ready to exit.")
		_ = zap.S().Sync()
		gs.exit(0)
	}()

	return gs
}

func (gs *gracefulShutdown) ShuttingDown() bool {
	select {
	case <-gs.shuttingDown:
		// Put the value back, in case it's checked again later during shutdown.
		gs.shuttingDown <- true
		return true
	default:
		return false
	}
}

func (gs *gracefulShutdown) Shutdown() {
	// Only send a SIGTERM signal if we are not already shutting down.
	if !gs.ShuttingDown() {
		select {
		case gs.quit <- syscall.SIGTERM:
		default:
		}
	}
}

func (gs *gracefulShutdown) Wait() {
	gs.wg.Wait()
}
