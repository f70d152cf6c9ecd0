// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (connection engine, serial
// acquisition, delegation subsystem) to subscribers (the CLI watch mode,
// tests). The bus is nil-safe: calling Publish on a nil *Bus is a no-op,
// so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceBroker identifies events from the broker connection engine.
	SourceBroker = "broker"
	// SourceSerial identifies events from the serial acquisition service.
	SourceSerial = "serial"
	// SourceAdmin identifies events from the delegation subsystem.
	SourceAdmin = "admin"
)

// Kind constants describe the type of event within a source.
const (
	// KindConnected signals the broker connection was established.
	// Data: host, port.
	KindConnected = "connected"
	// KindDisconnected signals the broker connection was lost or closed.
	KindDisconnected = "disconnected"
	// KindMessage signals an inbound message on a subscribed topic.
	// Data: topic, source_client, size.
	KindMessage = "message"

	// KindReading signals a sensor reading arrived on the serial port.
	// Data: sensor, value, units, timestamp.
	KindReading = "reading"
	// KindPortOpened signals the serial port was opened.
	// Data: port, baud.
	KindPortOpened = "port_opened"
	// KindPortLost signals the serial port disappeared or errored.
	// Data: port, error.
	KindPortLost = "port_lost"

	// KindAdminRequest signals an inbound administration request on an
	// owned topic. Data: topic, requester.
	KindAdminRequest = "admin_request"
	// KindAdminResult signals the outcome of an outbound administration
	// request, or a revocation of previously granted rights.
	// Data: topic, approved / revoked.
	KindAdminResult = "admin_result"
	// KindSensorStatus signals confirmation that a remote sensor
	// command took effect. Data: topic, sensor, active.
	KindSensorStatus = "sensor_status"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// interactive consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
