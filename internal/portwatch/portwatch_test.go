package portwatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeList is a swappable port enumerator.
type fakeList struct {
	mu    sync.Mutex
	ports []string
}

func (f *fakeList) set(ports ...string) {
	f.mu.Lock()
	f.ports = ports
	f.mu.Unlock()
}

func (f *fakeList) list() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ports...), nil
}

func collectPorts(t *testing.T) (chan string, func(string)) {
	t.Helper()
	ch := make(chan string, 16)
	return ch, func(name string) { ch <- name }
}

func TestWatcher_ReportsNewPort(t *testing.T) {
	ports := &fakeList{}
	got, onNew := collectPorts(t)

	w := New(Config{
		List:      ports.list,
		Interval:  5 * time.Millisecond,
		OnNewPort: onNew,
	})
	w.Start(context.Background())
	defer w.Stop()

	ports.set("/dev/ttyUSB0")

	select {
	case name := <-got:
		if name != "/dev/ttyUSB0" {
			t.Errorf("new port = %q, want /dev/ttyUSB0", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for new-port callback")
	}
}

func TestWatcher_InitialPortsAreNotNew(t *testing.T) {
	ports := &fakeList{}
	ports.set("/dev/ttyUSB0")
	got, onNew := collectPorts(t)

	w := New(Config{
		List:      ports.list,
		Interval:  5 * time.Millisecond,
		OnNewPort: onNew,
	})
	w.Start(context.Background())
	defer w.Stop()

	select {
	case name := <-got:
		t.Errorf("pre-existing port %q reported as new", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcher_ReplugFiresAgain(t *testing.T) {
	ports := &fakeList{}
	ports.set("/dev/ttyUSB0")
	got, onNew := collectPorts(t)

	w := New(Config{
		List:      ports.list,
		Interval:  5 * time.Millisecond,
		OnNewPort: onNew,
	})
	w.Start(context.Background())
	defer w.Stop()

	// Unplug, wait for a poll to observe the absence, replug.
	ports.set()
	time.Sleep(30 * time.Millisecond)
	ports.set("/dev/ttyUSB0")

	select {
	case name := <-got:
		if name != "/dev/ttyUSB0" {
			t.Errorf("replugged port = %q, want /dev/ttyUSB0", name)
		}
	case <-time.After(time.Second):
		t.Fatal("replugged port never reported")
	}
}

func TestWatcher_StopTerminates(t *testing.T) {
	ports := &fakeList{}
	w := New(Config{
		List:      ports.list,
		Interval:  5 * time.Millisecond,
		OnNewPort: func(string) {},
	})
	w.Start(context.Background())

	if !w.Running() {
		t.Fatal("watcher not running after Start")
	}
	w.Stop()
	if w.Running() {
		t.Error("watcher still running after Stop")
	}

	// Stop again must not panic or block.
	w.Stop()
}

func TestWatcher_DoubleStartIsNoop(t *testing.T) {
	ports := &fakeList{}
	w := New(Config{
		List:      ports.list,
		Interval:  5 * time.Millisecond,
		OnNewPort: func(string) {},
	})
	w.Start(context.Background())
	w.Start(context.Background())
	w.Stop()
}
