package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tinymq/tinymq-go/internal/events"
	"github.com/tinymq/tinymq-go/internal/wire"
)

// maxTopicJSON is the largest encoded effective-topic the PUB payload
// can carry: the length prefix is a single byte.
const maxTopicJSON = 255

// Publish sends message on topic. The broker-visible ("effective")
// topic is "<client_id>/<topic>", unless message is a JSON object with
// a "cliente" field, in which case that value replaces the client id.
// The PUB payload is topic_len:u8 | JSON ["effective"] | message.
func (c *Client) Publish(topic, message string) error {
	effective := c.effectiveTopic(topic, message)
	topicJSON, err := json.Marshal([]string{effective})
	if err != nil {
		return fmt.Errorf("encode topic: %w", err)
	}
	if len(topicJSON) > maxTopicJSON {
		return fmt.Errorf("%w: %q is %d bytes encoded", ErrTopicTooLong, effective, len(topicJSON))
	}

	payload := make([]byte, 0, 1+len(topicJSON)+len(message))
	payload = append(payload, byte(len(topicJSON)))
	payload = append(payload, topicJSON...)
	payload = append(payload, message...)
	return c.Send(wire.NewFrame(wire.TypePub, payload))
}

func (c *Client) effectiveTopic(topic, message string) string {
	var override struct {
		Cliente string `json:"cliente"`
	}
	if err := json.Unmarshal([]byte(message), &override); err == nil && override.Cliente != "" {
		return override.Cliente + "/" + topic
	}
	return c.ClientID() + "/" + topic
}

// Subscribe sends SUB for topic and records handler for inbound
// messages on it. Subscribing again to the same topic replaces the
// handler.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	payload, err := json.Marshal([]string{topic})
	if err != nil {
		return fmt.Errorf("encode topic: %w", err)
	}
	if err := c.Send(wire.NewFrame(wire.TypeSub, payload)); err != nil {
		return err
	}

	c.handlerMu.Lock()
	c.handlers[normalizeTopic(topic)] = handler
	c.handlerMu.Unlock()
	c.logger.Debug("subscribed", "topic", topic)
	return nil
}

// Unsubscribe sends UNSUB for topic and removes its handler.
func (c *Client) Unsubscribe(topic string) error {
	payload, err := json.Marshal([]string{topic})
	if err != nil {
		return fmt.Errorf("encode topic: %w", err)
	}
	if err := c.Send(wire.NewFrame(wire.TypeUnsub, payload)); err != nil {
		return err
	}

	c.handlerMu.Lock()
	delete(c.handlers, normalizeTopic(topic))
	c.handlerMu.Unlock()
	c.logger.Debug("unsubscribed", "topic", topic)
	return nil
}

// handleInboundPub routes one broker-delivered message to its topic
// handler. The topic field arrives either as a plain string or as the
// one-element array form used on the wire; both are accepted. The
// handler runs on its own goroutine so it may call back into the
// client.
func (c *Client) handleInboundPub(payload []byte) {
	var msg struct {
		Topic   json.RawMessage `json:"topic"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Debug("dropping malformed PUB", "error", err)
		return
	}

	raw, normalized, ok := topicForms(msg.Topic)
	if !ok {
		c.logger.Debug("dropping PUB with malformed topic", "topic", string(msg.Topic))
		return
	}

	c.handlerMu.Lock()
	handler, found := c.handlers[raw]
	if !found {
		handler, found = c.handlers[normalized]
	}
	c.handlerMu.Unlock()

	c.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceBroker,
		Kind:      events.KindMessage,
		Data:      map[string]any{"topic": normalized, "size": len(msg.Message)},
	})

	if !found {
		c.logger.Debug("no handler for topic", "topic", normalized)
		return
	}
	go handler(normalized, []byte(msg.Message))
}

// topicForms extracts the raw and normalized topic strings from the
// inbound topic field, which is either "x" or ["x"].
func topicForms(raw json.RawMessage) (rawForm, normalized string, ok bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, normalizeTopic(s), true
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 {
		return string(raw), arr[0], true
	}
	return "", "", false
}

// normalizeTopic strips the one-element JSON array wrapper, if present.
// Applied symmetrically at registration and dispatch so the two always
// meet.
func normalizeTopic(topic string) string {
	if len(topic) > 0 && topic[0] == '[' {
		var arr []string
		if err := json.Unmarshal([]byte(topic), &arr); err == nil && len(arr) == 1 {
			return arr[0]
		}
	}
	return topic
}
