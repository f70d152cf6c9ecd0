// Package das is the data acquisition service: it owns the serial link
// to the attached microcontroller, parses its line-framed JSON dialect
// into sensor readings, persists them, and fans them out to registered
// consumer callbacks. It has no knowledge of the broker connection; the
// publish orchestrator bridges the two.
package das

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/tinymq/tinymq-go/internal/config"
	"github.com/tinymq/tinymq-go/internal/events"
	"github.com/tinymq/tinymq-go/internal/portwatch"
)

var (
	// ErrPortNotOpen is returned by SendCommand when the serial port is
	// not currently open.
	ErrPortNotOpen = errors.New("das: serial port not open")

	// ErrAlreadyRunning is returned by Start when the reader is active.
	ErrAlreadyRunning = errors.New("das: already running")
)

// Store is the persistence surface the service needs. *store.Store
// satisfies it.
type Store interface {
	AddReading(name, value string, timestamp int64, units string) error
}

// Reading is one sensor sample as delivered to data callbacks.
type Reading struct {
	Value     string
	Timestamp int64
	Units     string
}

// DataCallback consumes sensor readings. Callbacks run on the reader
// goroutine and must not block.
type DataCallback func(sensorName string, r Reading)

// Stats is a point-in-time snapshot of the service.
type Stats struct {
	Running          bool
	Port             string
	Baud             int
	ReadingsReceived int64
	Callbacks        int
}

// Config configures the acquisition service.
type Config struct {
	// Port is the serial device path.
	Port string
	// Baud is the line rate (default 115200).
	Baud int
	// Verbose logs every reading at debug level.
	Verbose bool

	Store  Store
	Logger *slog.Logger
	Bus    *events.Bus

	// OpenPort opens the serial device. Defaults to go.bug.st/serial.
	// Tests inject a pipe here.
	OpenPort func(name string, baud int) (io.ReadWriteCloser, error)
	// ListPorts enumerates present serial ports for the replug
	// watcher. Defaults to go.bug.st/serial.
	ListPorts func() ([]string, error)
}

// Service reads the serial port and distributes sensor readings. One
// reader goroutine owns the open port; a port watcher goroutine runs
// only while the device is absent.
type Service struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	port     io.ReadWriteCloser
	portName string
	done     chan struct{}

	running  atomic.Bool
	closing  atomic.Bool
	readings atomic.Int64

	cbMu      sync.Mutex
	callbacks []DataCallback

	watcher *portwatch.Watcher
}

// New creates a service from cfg. The store may be nil (readings are
// then fanned out without persistence, useful for tools).
func New(cfg Config) *Service {
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OpenPort == nil {
		cfg.OpenPort = func(name string, baud int) (io.ReadWriteCloser, error) {
			return serial.Open(name, &serial.Mode{BaudRate: baud})
		}
	}
	if cfg.ListPorts == nil {
		cfg.ListPorts = serial.GetPortsList
	}

	s := &Service{cfg: cfg, logger: cfg.Logger}
	s.watcher = portwatch.New(portwatch.Config{
		List:      cfg.ListPorts,
		OnNewPort: s.onNewPort,
		Logger:    cfg.Logger,
	})
	return s
}

// Start attempts one open of the configured port. If the open fails and
// autoRetry is set, the port watcher is started so a later plug-in
// re-establishes the reader. Returns true only when the initial open
// succeeded.
func (s *Service) Start(autoRetry bool) bool {
	s.closing.Store(false)
	if err := s.open(s.cfg.Port); err != nil {
		s.logger.Warn("serial port open failed", "port", s.cfg.Port, "error", err)
		if autoRetry {
			s.watcher.Start(context.Background())
		}
		return false
	}
	return true
}

// Stop halts the watcher and the reader and closes the port.
func (s *Service) Stop() {
	s.closing.Store(true)
	s.watcher.Stop()

	s.mu.Lock()
	port := s.port
	done := s.done
	s.port = nil
	s.mu.Unlock()

	if port != nil {
		port.Close()
	}
	if done != nil {
		<-done
	}
}

// SendCommand serializes v as one JSON object followed by a newline and
// writes it to the device. Actuator commands take this path:
// {"command":"set_fan","value":1}.
func (s *Service) SendCommand(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrPortNotOpen
	}

	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.port.Write(line); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	s.logger.Debug("serial command sent", "bytes", len(line))
	return nil
}

// AddDataCallback registers a consumer for every subsequent reading.
func (s *Service) AddDataCallback(fn DataCallback) {
	s.cbMu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.cbMu.Unlock()
}

// ClearCallbacks removes every registered consumer. The orchestrator
// calls this before re-installing the publish callback set.
func (s *Service) ClearCallbacks() {
	s.cbMu.Lock()
	s.callbacks = nil
	s.cbMu.Unlock()
}

// Stats returns a snapshot of the service state.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	portName := s.portName
	s.mu.Unlock()

	s.cbMu.Lock()
	cbs := len(s.callbacks)
	s.cbMu.Unlock()

	return Stats{
		Running:          s.running.Load(),
		Port:             portName,
		Baud:             s.cfg.Baud,
		ReadingsReceived: s.readings.Load(),
		Callbacks:        cbs,
	}
}

// Running reports whether the reader goroutine is active.
func (s *Service) Running() bool {
	return s.running.Load()
}

// onNewPort is the watcher callback: try the newly present port; on
// success the watcher stops and the reader takes over.
func (s *Service) onNewPort(name string) {
	if s.running.Load() {
		return
	}
	// The configured path is only a hint: a replug can enumerate on a
	// different USB path, so try any newly present device. A failed
	// open leaves the watcher armed for the next arrival.
	if err := s.open(name); err != nil {
		s.logger.Warn("serial reopen failed", "port", name, "error", err)
		return
	}
	go s.watcher.Stop()
}

func (s *Service) open(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return ErrAlreadyRunning
	}

	port, err := s.cfg.OpenPort(name, s.cfg.Baud)
	if err != nil {
		return err
	}
	s.port = port
	s.portName = name
	s.done = make(chan struct{})
	s.running.Store(true)

	s.logger.Info("serial port opened", "port", name, "baud", s.cfg.Baud)
	s.cfg.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSerial,
		Kind:      events.KindPortOpened,
		Data:      map[string]any{"port": name, "baud": s.cfg.Baud},
	})

	go s.readLoop(port, name, s.done)
	return nil
}

// readLoop accumulates bytes into lines and processes each complete
// line. On any read error it tears the port down and arms the watcher
// so the next plug-in recovers automatically.
func (s *Service) readLoop(port io.ReadWriteCloser, name string, done chan struct{}) {
	defer close(done)

	var line bytes.Buffer
	buf := make([]byte, 1)
	for {
		n, err := port.Read(buf)
		if err != nil {
			s.handlePortLoss(port, name, err)
			return
		}
		if n == 0 {
			continue
		}
		if buf[0] != '\n' {
			line.WriteByte(buf[0])
			continue
		}
		s.processLine(bytes.TrimSpace(line.Bytes()))
		line.Reset()
	}
}

func (s *Service) handlePortLoss(port io.ReadWriteCloser, name string, err error) {
	s.mu.Lock()
	if s.port == port {
		s.port = nil
	}
	s.mu.Unlock()
	s.running.Store(false)
	port.Close()

	s.logger.Warn("serial port lost", "port", name, "error", err)
	s.cfg.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSerial,
		Kind:      events.KindPortLost,
		Data:      map[string]any{"port": name, "error": err.Error()},
	})
	if !s.closing.Load() {
		s.watcher.Start(context.Background())
	}
}

// deviceReading is one element of the device's JSON array dialect.
type deviceReading struct {
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Units     string          `json:"units"`
}

func (s *Service) processLine(line []byte) {
	if len(line) == 0 {
		return
	}

	switch line[0] {
	case '[':
		var batch []deviceReading
		if err := json.Unmarshal(line, &batch); err != nil {
			s.logger.Log(context.Background(), config.LevelTrace,
				"unparseable serial line", "line", string(line), "error", err)
			return
		}
		for _, r := range batch {
			s.ingest(r)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(line, &obj); err != nil {
			s.logger.Log(context.Background(), config.LevelTrace,
				"unparseable serial line", "line", string(line), "error", err)
			return
		}
		// Command acknowledgements are logged, never dispatched.
		if ack, ok := obj["result"]; ok {
			s.logger.Debug("device ack", "result", string(ack))
			return
		}
		if devErr, ok := obj["error"]; ok {
			s.logger.Warn("device error", "error", string(devErr))
			return
		}
		// Some firmware sends single readings as bare objects.
		var r deviceReading
		if err := json.Unmarshal(line, &r); err == nil && r.Name != "" {
			s.ingest(r)
		}
	default:
		if s.cfg.Verbose {
			s.logger.Log(context.Background(), config.LevelTrace,
				"non-JSON serial line", "line", string(line))
		}
	}
}

func (s *Service) ingest(r deviceReading) {
	if r.Name == "" || len(r.Value) == 0 {
		return
	}
	value := normalizeValue(r.Value)
	ts := r.Timestamp
	if ts <= 0 {
		ts = time.Now().Unix()
	}

	if s.cfg.Store != nil {
		if err := s.cfg.Store.AddReading(r.Name, value, ts, r.Units); err != nil {
			s.logger.Error("persist reading", "sensor", r.Name, "error", err)
		}
	}
	s.readings.Add(1)

	if s.cfg.Verbose {
		s.logger.Debug("reading", "sensor", r.Name, "value", value, "units", r.Units)
	}

	// Readings reach the event bus through a registered callback (the
	// orchestrator's baseline callback), never directly, so each reading
	// appears on the bus exactly once. Dispatch iterates a snapshot so
	// callbacks may register or clear callbacks without deadlocking.
	s.cbMu.Lock()
	cbs := append([]DataCallback(nil), s.callbacks...)
	s.cbMu.Unlock()

	reading := Reading{Value: value, Timestamp: ts, Units: r.Units}
	for _, fn := range cbs {
		fn(r.Name, reading)
	}
}

// normalizeValue renders a JSON scalar as the string the store keeps.
// Quoted strings lose their quotes; numbers and booleans keep their
// literal form.
func normalizeValue(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return string(raw)
}
