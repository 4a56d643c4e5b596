package commander

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/skuraya/conductor/internal/lock"
	"github.com/skuraya/conductor/internal/model"
	"github.com/skuraya/conductor/internal/notify"
	"github.com/skuraya/conductor/internal/queue"
	"github.com/skuraya/conductor/internal/service"
	"github.com/skuraya/conductor/internal/uds"
)

// Daemon runs a commander as a long-lived process with a UDS control
// socket, a watcher on the queue directory, and a periodic drain ticker.
type Daemon struct {
	dir      string
	config   model.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	commander *Commander
	queuePath string

	ordersMu sync.Mutex
	orders   map[string]*model.Order

	shipping  *service.ShippingClient
	payment   *service.PaymentClient
	messaging *service.MessagingClient
	employee  *service.EmployeeClient

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	done     chan struct{}
}

// NewDaemon creates a daemon rooted at dir, logging to
// <dir>/logs/conductor.log.
func NewDaemon(dir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(dir, "logs", "conductor.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(dir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(dir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	logger := log.New(w, "", 0)
	logLevel := ParseLogLevel(cfg.Logging.Level)

	lockMap := lock.NewMutexMap()
	queueDir := filepath.Join(dir, cfg.Queue.Dir)
	fileQueue, err := queue.NewFile(queueDir, lockMap)
	if err != nil {
		cancel()
		return nil, err
	}
	deadLetter, err := queue.NewDeadLetter(filepath.Join(dir, "dead_letter"))
	if err != nil {
		cancel()
		return nil, err
	}

	shipping := service.NewShippingClient()
	payment := service.NewPaymentClient()
	messaging := service.NewMessagingClient()
	employee := service.NewEmployeeClient()

	cmdr := New(Deps{
		Shipping:  shipping,
		Payment:   payment,
		Messaging: messaging,
		Employee:  employee,
		Queue:     fileQueue,
	}, cfg, logger, logLevel)
	cmdr.SetDeadLetter(deadLetter)
	if cfg.Notify.Enabled {
		cmdr.SetNotifier(notify.Send)
	}

	d := &Daemon{
		dir:       dir,
		config:    cfg,
		logLevel:  logLevel,
		logger:    logger,
		logFile:   closer,
		fileLock:  lock.NewFileLock(filepath.Join(dir, "locks", "conductor.lock")),
		server:    uds.NewServer(filepath.Join(dir, uds.DefaultSocketName)),
		ticker:    time.NewTicker(time.Duration(cfg.Daemon.ScanIntervalSec) * time.Second),
		commander: cmdr,
		queuePath: fileQueue.Path(),
		orders:    make(map[string]*model.Order),
		shipping:  shipping,
		payment:   payment,
		messaging: messaging,
		employee:  employee,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	return d, nil
}

// Commander exposes the wrapped commander, mainly for tests.
func (d *Daemon) Commander() *Commander {
	return d.commander
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := os.MkdirAll(filepath.Join(d.dir, "locks"), 0755); err != nil {
		return fmt.Errorf("create locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logf(LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	d.reportLeftoverTasks()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.fileLock.Unlock()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	if err := watcher.Add(filepath.Dir(d.queuePath)); err != nil {
		d.cleanup()
		return fmt.Errorf("watch queue dir: %w", err)
	}

	d.registerHandlers()

	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logf(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.dir, uds.DefaultSocketName))

	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.tickerLoop()

	d.logf(LogLevelInfo, "daemon ready")

	d.waitSignals()

	return nil
}

// reportLeftoverTasks logs tasks a previous process left in the durable
// snapshot. They cannot be resumed without their orders; the log trail is
// the recovery surface.
func (d *Daemon) reportLeftoverTasks() {
	recs, err := queue.LoadSnapshot(filepath.Dir(d.queuePath))
	if err != nil {
		d.logf(LogLevelWarn, "queue_snapshot_unreadable error=%v", err)
		return
	}
	for _, rec := range recs {
		d.logf(LogLevelWarn, "task_orphaned task=%s order=%s type=%s from previous run", rec.ID, rec.OrderID, rec.Type)
	}
}

type placeOrderParams struct {
	User    string  `json:"user"`
	Address string  `json:"address"`
	Item    string  `json:"item"`
	Price   float64 `json:"price"`
}

type orderStatus struct {
	ID        string `json:"id"`
	Payment   string `json:"payment"`
	Message   string `json:"message"`
	Escalated bool   `json:"escalated"`
}

func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("place_order", d.handlePlaceOrder)

	d.server.Handle("status", func(req *uds.Request) *uds.Response {
		stats := d.commander.Stats()
		d.ordersMu.Lock()
		statuses := make([]orderStatus, 0, len(d.orders))
		for _, o := range d.orders {
			statuses = append(statuses, orderStatus{
				ID:        o.ID,
				Payment:   string(o.PaymentStatus()),
				Message:   string(o.MessageSent()),
				Escalated: o.Escalated(),
			})
		}
		d.ordersMu.Unlock()

		return uds.SuccessResponse(map[string]any{
			"orders_placed": stats.OrdersPlaced,
			"queue_depth":   stats.QueueDepth,
			"orders":        statuses,
		})
	})

	d.server.Handle("drain", func(req *uds.Request) *uds.Response {
		d.commander.Drain()
		return uds.SuccessResponse(map[string]string{"status": "drain_kicked"})
	})

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.logf(LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handlePlaceOrder(req *uds.Request) *uds.Response {
	var params placeOrderParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("parse params: %v", err))
	}
	if params.User == "" || params.Item == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "user and item are required")
	}
	if params.Price < 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "price must not be negative")
	}

	o, err := d.commander.NewOrder(params.User, params.Address, params.Item, params.Price)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}

	d.ordersMu.Lock()
	d.orders[o.ID] = o
	d.ordersMu.Unlock()

	d.commander.PlaceOrder(o)

	return uds.SuccessResponse(map[string]string{
		"order_id": o.ID,
		"payment":  string(o.PaymentStatus()),
	})
}

// fsnotifyLoop kicks the drain loop when the queue snapshot changes on
// disk. The daemon's own writes also land here; kicking an already running
// drain is a no-op.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Name == d.queuePath && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				d.logf(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				if d.commander.Stats().QueueDepth > 0 {
					d.commander.Drain()
				}
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logf(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// tickerLoop re-kicks the drain loop at the configured scan interval, as a
// backstop for kicks lost to races.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			if d.commander.Stats().QueueDepth > 0 {
				d.logf(LogLevelDebug, "periodic drain triggered")
				d.commander.Drain()
			}
		}
	}
}

// waitSignals blocks until a shutdown signal is received or Shutdown has
// completed through another path, such as the UDS shutdown command.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logf(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)
	case <-d.done:
		return
	}

	// Second signal → force exit
	go func() {
		<-sigCh
		d.logf(LogLevelWarn, "received second signal, forcing exit")
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logf(LogLevelInfo, "shutdown started")

		d.cancel()

		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second
		if err := d.commander.Close(timeout); err != nil {
			d.logf(LogLevelWarn, "shutdown timeout: %v", err)
		} else {
			d.logf(LogLevelInfo, "all commander goroutines drained")
		}
		d.wg.Wait()

		d.cleanup()
		d.logf(LogLevelInfo, "daemon stopped")
		close(d.done)
	})
}

func (d *Daemon) cleanup() {
	os.Remove(filepath.Join(d.dir, uds.DefaultSocketName))
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) logf(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelString(level), msg)
}
