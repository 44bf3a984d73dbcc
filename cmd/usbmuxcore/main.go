// Command usbmuxcore runs the USB device manager core standalone: it
// discovers Apple devices, negotiates them into mux mode, and logs every
// arrival, departure, and inbound packet instead of forwarding them
// anywhere. It exists to exercise the core the way a real muxer daemon
// would, without a TCP/relay layer on top.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/usbmuxgo/usbmux"
	"github.com/usbmuxgo/usbmux/internal/logging"
)

func main() {
	var (
		verbose  = flag.Bool("v", false, "Verbose output")
		mode     = flag.Int("mode", 0, "Desired mux mode (0 = read USBMUX_DEVICE_MODE or the built-in default)")
		noDiscov = flag.Bool("no-autodiscover", false, "Disable periodic rediscovery (hotplug, if available, still runs)")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	collab := &loggingCollaborator{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr, err := usbmux.New(ctx, usbmux.Options{
		Collaborator: collab,
		Logger:       logger,
		DesiredMode:  *mode,
	})
	if err != nil {
		logger.Error("failed to start device manager", "error", err)
		os.Exit(1)
	}
	defer mgr.Shutdown()

	if *noDiscov {
		mgr.Autodiscover(false)
	}

	logger.Info("usbmuxcore running", "pid", os.Getpid())
	fmt.Printf("usbmuxcore running (pid %d), send SIGUSR1 to dump goroutine stacks, Ctrl+C to stop\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go runLoop(ctx, mgr, logger, done)

	<-sigCh
	logger.Info("received shutdown signal")
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		logger.Info("event loop shutdown timeout, exiting anyway")
	}
}

// runLoop drives Process/ProcessTimeout until ctx is cancelled, the way a
// host integrating the core would: block for up to Timeout(), then let
// Process drain whatever became ready and run rediscovery if it's due.
func runLoop(ctx context.Context, mgr *usbmux.Manager, logger *logging.Logger, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := mgr.ProcessTimeout(ctx, mgr.Timeout()); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("process error", "error", err)
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// loggingCollaborator implements usbmux.Collaborator by logging every
// callback; it forwards nothing anywhere, the minimum collaborator a host
// needs to observe the core end to end.
type loggingCollaborator struct {
	logger *logging.Logger
}

func (c *loggingCollaborator) DeviceAdd(dev *usbmux.Device) error {
	c.logger.Info("device attached", "location", dev.Location(), "serial", dev.Serial(), "product_id", dev.ProductID())
	return nil
}

func (c *loggingCollaborator) DeviceRemove(dev *usbmux.Device) {
	c.logger.Info("device detached", "location", dev.Location(), "serial", dev.Serial())
}

func (c *loggingCollaborator) DeviceDataInput(dev *usbmux.Device, data []byte) {
	c.logger.Debug("device data", "location", dev.Location(), "bytes", len(data))
}

func (c *loggingCollaborator) Log(level usbmux.LogLevel, msg string) {
	switch level {
	case usbmux.LogError:
		c.logger.Error(msg)
	case usbmux.LogWarn:
		c.logger.Warn(msg)
	case usbmux.LogDebug:
		c.logger.Debug(msg)
	default:
		c.logger.Info(msg)
	}
}

func (c *loggingCollaborator) GetTickCount() time.Time { return time.Now() }
