package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tinymq/tinymq-go/internal/events"
	"github.com/tinymq/tinymq-go/internal/wire"
)

// AdminRequestCallback receives the broker's verdict on an outbound
// administration request, delivered when ADMIN_REQ_ACK arrives. On
// success errorCode is "SUCCESS".
type AdminRequestCallback func(success bool, message, errorCode, topic string)

// CommandSender is the one-method surface the delegation subsystem
// needs to forward actuator commands to the attached device.
// *das.Service satisfies it.
type CommandSender interface {
	SendCommand(v any) error
}

// AdminRequest is one pending inbound administration request on an
// owned topic.
type AdminRequest struct {
	ID        int64
	Topic     string
	Requester string
	Timestamp int64
}

// OutboundRequest is one administration request this client has sent,
// with its current status (pending, approved, rejected).
type OutboundRequest struct {
	Topic     string
	OwnerID   string
	Timestamp int64
	Status    string
}

// AdminTopic is a remote topic where this client holds admin rights.
type AdminTopic struct {
	Name      string
	OwnerID   string
	Publish   bool
	GrantedAt string
}

// TopicInfo is a broker-side topic row, either one of this client's own
// topics (MyTopics) or any published topic (PublishedTopics).
type TopicInfo struct {
	Name      string
	Publish   bool
	AdminID   string
	CreatedAt string
}

// TopicSensor is the broker's view of one sensor on a topic.
type TopicSensor struct {
	Name         string
	Active       bool
	Activable    bool
	ConfiguredAt string
}

// SensorInfo describes a locally attached sensor, published to
// administrators via PublishSensorInfo.
type SensorInfo struct {
	Name         string `json:"name"`
	Activable    bool   `json:"activable"`
	CurrentValue string `json:"current_value"`
	Units        string `json:"units"`
}

// SensorStatus confirms that a remote sensor command took effect.
type SensorStatus struct {
	Topic  string
	Sensor string
	Active bool
}

// OnAdminNotify registers the single callback for ADMIN_NOTIFY frames
// (inbound administration requests on owned topics).
func (c *Client) OnAdminNotify(fn func(map[string]any)) {
	c.cbMu.Lock()
	c.adminNotifyCb = fn
	c.cbMu.Unlock()
}

// OnAdminResult registers the single callback for ADMIN_RESULT frames:
// approvals/rejections of this client's requests (__admin_result) and
// revocations of previously granted rights (__admin_revoked).
func (c *Client) OnAdminResult(fn func(map[string]any)) {
	c.cbMu.Lock()
	c.adminResultCb = fn
	c.cbMu.Unlock()
}

// OnSensorStatus registers the single callback confirming remote
// sensor commands.
func (c *Client) OnSensorStatus(fn func(SensorStatus)) {
	c.cbMu.Lock()
	c.sensorStatusCb = fn
	c.cbMu.Unlock()
}

// CreateTopic announces a new topic to the broker. A non-nil handler
// subscribes to the topic first, so the creator sees its own traffic.
func (c *Client) CreateTopic(topic string, handler MessageHandler) error {
	if handler != nil {
		if err := c.Subscribe(topic, handler); err != nil {
			return err
		}
	}
	return c.publishEnvelope(topic, map[string]any{
		"__topic_create": true,
		"client_id":      c.ClientID(),
		"topic_name":     topic,
		"timestamp":      time.Now().Unix(),
	})
}

// SetTopicPublish announces a publish-flag change for an owned topic.
func (c *Client) SetTopicPublish(topic string, publish bool) error {
	return c.publishEnvelope(topic, map[string]any{
		"__topic_publish_update": true,
		"client_id":              c.ClientID(),
		"topic_name":             topic,
		"publish":                publish,
		"timestamp":              time.Now().Unix(),
	})
}

// RequestAdmin asks the owner for administration rights on topic. The
// verdict arrives asynchronously through cb when the broker answers
// with ADMIN_REQ_ACK. Requesting administration of an own topic fails
// locally with SELF_REQUEST.
func (c *Client) RequestAdmin(topic, ownerID string, cb AdminRequestCallback) error {
	if ownerID == c.ClientID() {
		return &AdminError{Code: CodeSelfRequest, Message: "cannot request administration of an own topic", Topic: topic}
	}

	c.cbMu.Lock()
	c.adminRequestCb = cb
	c.cbMu.Unlock()

	return c.publishEnvelope(ownerID+"/admin", map[string]any{
		"__admin_request": true,
		"client_id":       c.ClientID(),
		"topic_name":      topic,
		"owner_id":        ownerID,
		"timestamp":       time.Now().Unix(),
	})
}

// RespondToAdminRequest answers a pending inbound request. The payload
// is the binary approved | topic_len | topic | requester_len |
// requester layout; no synchronous reply follows.
func (c *Client) RespondToAdminRequest(topic, requesterID string, approved bool) error {
	if len(topic) > 255 {
		return fmt.Errorf("%w: %q", ErrTopicTooLong, topic)
	}
	if len(requesterID) > 255 {
		return fmt.Errorf("requester id %q too long", requesterID)
	}

	payload := make([]byte, 0, 3+len(topic)+len(requesterID))
	var ok byte
	if approved {
		ok = 1
	}
	payload = append(payload, ok, byte(len(topic)))
	payload = append(payload, topic...)
	payload = append(payload, byte(len(requesterID)))
	payload = append(payload, requesterID...)
	return c.Send(&wire.Frame{Type: wire.TypeAdminResponse, Payload: payload})
}

// RevokeAdmin strips adminID of its rights on an owned topic. The
// broker notifies the former admin via ADMIN_RESULT.
func (c *Client) RevokeAdmin(topic, adminID string) error {
	return c.publishEnvelope("system/admin/revoke", map[string]any{
		"__admin_revoke":  true,
		"client_id":       c.ClientID(),
		"topic_name":      topic,
		"admin_to_revoke": adminID,
		"timestamp":       time.Now().Unix(),
	})
}

// ResignAdmin gives up admin rights on topic. The broker answers with
// ADMIN_RESIGN_ACK carrying {success, message}.
func (c *Client) ResignAdmin(topic string) (bool, string, error) {
	payload, err := c.request(&wire.Frame{Type: wire.TypeAdminResign, Payload: []byte(topic)}, wire.TypeAdminResignAck)
	if err != nil {
		return false, "", err
	}
	var ack struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil {
		return false, "", fmt.Errorf("parse resign ack: %w", err)
	}
	return ack.Success, ack.Message, nil
}

// MarkActivable declares whether administrators may toggle sensor on an
// owned topic.
func (c *Client) MarkActivable(topic, sensor string, activable bool) error {
	return c.publishEnvelope("system/admin/sensor_activable", map[string]any{
		"__admin_sensor_activable": true,
		"topic_name":               topic,
		"sensor_name":              sensor,
		"activable":                activable,
		"client_id":                c.ClientID(),
	})
}

// SendSensorCommand asks the broker to toggle a remote activable
// sensor. Only the topic's current administrator may issue it; the
// broker validates and forwards to the owner. Confirmation arrives via
// the sensor-status callback.
func (c *Client) SendSensorCommand(topic, sensor string, active bool) error {
	return c.publishEnvelope("system/admin/config", map[string]any{
		"command":     "set_sensor",
		"topic_name":  topic,
		"sensor_name": sensor,
		"active":      active,
		"sender_id":   c.ClientID(),
		"timestamp":   time.Now().Unix(),
	})
}

// PublishSensorInfo advertises the owner's sensor set on
// <client_id>/<topic>/sensor_info so administrators can discover what
// is toggleable.
func (c *Client) PublishSensorInfo(topic string, sensors []SensorInfo) error {
	return c.publishEnvelope(c.ClientID()+"/"+topic+"/sensor_info", map[string]any{
		"__sensor_info": true,
		"topic":         topic,
		"sensors":       sensors,
		"timestamp":     time.Now().Unix(),
	})
}

// SubscribeSensorInfo watches the owner's sensor advertisements for
// topic and delivers each one to fn.
func (c *Client) SubscribeSensorInfo(topic, ownerID string, fn func([]SensorInfo)) error {
	return c.Subscribe(ownerID+"/"+topic+"/sensor_info", func(_ string, payload []byte) {
		var msg struct {
			SensorInfo bool         `json:"__sensor_info"`
			Sensors    []SensorInfo `json:"sensors"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil || !msg.SensorInfo {
			return
		}
		fn(msg.Sensors)
	})
}

// SubscribeSensorControl wires the owner's side of the remote command
// path: subscribe to <client_id>/admin_notifications and forward every
// set_sensor envelope to the device as {"command":"set_<name>",
// "value":0|1}. Other notifications on the topic reach the
// admin-notify callback.
func (c *Client) SubscribeSensorControl(device CommandSender) error {
	handler := func(_ string, payload []byte) {
		var data map[string]any
		if err := json.Unmarshal(payload, &data); err != nil {
			c.logger.Debug("dropping malformed admin notification", "error", err)
			return
		}
		if cmd, _ := data["command"].(string); cmd == "set_sensor" {
			sensor, _ := data["sensor_name"].(string)
			value := 0
			if active, _ := data["active"].(bool); active {
				value = 1
			}
			c.logger.Info("forwarding sensor command", "sensor", sensor, "value", value)
			if err := device.SendCommand(map[string]any{"command": "set_" + sensor, "value": value}); err != nil {
				c.logger.Error("forward sensor command", "sensor", sensor, "error", err)
			}
			return
		}
		c.deliverAdminNotify(data)
	}
	return c.Subscribe(c.ClientID()+"/admin_notifications", handler)
}

// ListIncomingRequests fetches the pending administration requests on
// this client's topics (ADMIN_LIST_REQ → ADMIN_LIST_RESP).
func (c *Client) ListIncomingRequests() ([]AdminRequest, error) {
	payload, err := c.request(&wire.Frame{Type: wire.TypeAdminListReq}, wire.TypeAdminListResp)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID                json.Number `json:"id"`
		Topic             string      `json:"topic"`
		TopicName         string      `json:"topic_name"`
		RequesterID       string      `json:"requester_id"`
		RequesterClientID string      `json:"requester_client_id"`
		RequestTimestamp  json.Number `json:"request_timestamp"`
	}
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("parse admin request list: %w", err)
	}
	out := make([]AdminRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, AdminRequest{
			ID:        numToInt64(r.ID),
			Topic:     firstNonEmpty(r.TopicName, r.Topic),
			Requester: firstNonEmpty(r.RequesterID, r.RequesterClientID),
			Timestamp: numToInt64(r.RequestTimestamp),
		})
	}
	return out, nil
}

// ListMyRequests fetches this client's outbound administration requests
// with their current status (MY_ADMIN_REQ → MY_ADMIN_RESP).
func (c *Client) ListMyRequests() ([]OutboundRequest, error) {
	payload, err := c.request(&wire.Frame{Type: wire.TypeMyAdminReq}, wire.TypeMyAdminResp)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Topic            string      `json:"topic"`
		TopicName        string      `json:"topic_name"`
		OwnerID          string      `json:"owner_id"`
		RequestTimestamp json.Number `json:"request_timestamp"`
		Status           string      `json:"status"`
	}
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("parse outbound request list: %w", err)
	}
	out := make([]OutboundRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, OutboundRequest{
			Topic:     firstNonEmpty(r.TopicName, r.Topic),
			OwnerID:   r.OwnerID,
			Timestamp: numToInt64(r.RequestTimestamp),
			Status:    r.Status,
		})
	}
	return out, nil
}

// ListMyAdminTopics fetches the remote topics where this client holds
// admin rights (MY_ADMIN_TOPICS_REQ → MY_ADMIN_TOPICS_RESP). Only one
// call may be outstanding at a time.
func (c *Client) ListMyAdminTopics() ([]AdminTopic, error) {
	if !c.fetchingAdminTopics.CompareAndSwap(false, true) {
		return nil, ErrRequestInFlight
	}
	defer c.fetchingAdminTopics.Store(false)

	payload, err := c.request(&wire.Frame{Type: wire.TypeMyAdminTopicsReq}, wire.TypeMyAdminTopicsResp)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Name          string   `json:"name"`
		TopicName     string   `json:"topic_name"`
		OwnerClientID string   `json:"owner_client_id"`
		OwnerID       string   `json:"owner_id"`
		Publish       flexBool `json:"publish"`
		GrantedAt     string   `json:"granted_at"`
	}
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("parse admin topic list: %w", err)
	}
	out := make([]AdminTopic, 0, len(rows))
	for _, r := range rows {
		out = append(out, AdminTopic{
			Name:      firstNonEmpty(r.Name, r.TopicName),
			OwnerID:   firstNonEmpty(r.OwnerClientID, r.OwnerID),
			Publish:   bool(r.Publish),
			GrantedAt: r.GrantedAt,
		})
	}
	return out, nil
}

// ListMyTopics fetches this client's own topics with their broker-side
// state (MY_TOPICS_REQ → MY_TOPICS_RESP).
func (c *Client) ListMyTopics() ([]TopicInfo, error) {
	payload, err := c.request(&wire.Frame{Type: wire.TypeMyTopicsReq}, wire.TypeMyTopicsResp)
	if err != nil {
		return nil, err
	}
	return parseTopicInfos(payload)
}

// PublishedTopics fetches every topic currently published on the broker
// (TOPIC_REQ → TOPIC_RESP). Only one call may be outstanding at a
// time.
func (c *Client) PublishedTopics() ([]TopicInfo, error) {
	if !c.fetchingTopics.CompareAndSwap(false, true) {
		return nil, ErrRequestInFlight
	}
	defer c.fetchingTopics.Store(false)

	payload, err := c.request(&wire.Frame{Type: wire.TypeTopicReq}, wire.TypeTopicResp)
	if err != nil {
		return nil, err
	}
	return parseTopicInfos(payload)
}

func parseTopicInfos(payload []byte) ([]TopicInfo, error) {
	var rows []struct {
		Name          string   `json:"name"`
		TopicName     string   `json:"topic_name"`
		Publish       flexBool `json:"publish"`
		PublishActive flexBool `json:"publish_active"`
		AdminClientID string   `json:"admin_client_id"`
		CreatedAt     string   `json:"created_at"`
	}
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("parse topic list: %w", err)
	}
	out := make([]TopicInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, TopicInfo{
			Name:      firstNonEmpty(r.Name, r.TopicName),
			Publish:   bool(r.Publish) || bool(r.PublishActive),
			AdminID:   r.AdminClientID,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// TopicSensors fetches the broker's sensor configuration for a topic
// (TOPIC_SENSORS_REQ → TOPIC_SENSORS_RESP). Boolean fields arrive as
// "true"/"false" strings and are normalised.
func (c *Client) TopicSensors(topic string) ([]TopicSensor, error) {
	payload, err := c.request(&wire.Frame{Type: wire.TypeTopicSensorsReq, Payload: []byte(topic)}, wire.TypeTopicSensorsResp)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Sensors []struct {
			Name         string   `json:"name"`
			Active       flexBool `json:"active"`
			Activable    flexBool `json:"activable"`
			ConfiguredAt string   `json:"configured_at"`
		} `json:"sensors"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("parse topic sensors: %w", err)
	}
	out := make([]TopicSensor, 0, len(resp.Sensors))
	for _, s := range resp.Sensors {
		out = append(out, TopicSensor{
			Name:         s.Name,
			Active:       bool(s.Active),
			Activable:    bool(s.Activable),
			ConfiguredAt: s.ConfiguredAt,
		})
	}
	return out, nil
}

func (c *Client) publishEnvelope(topic string, envelope map[string]any) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Publish(topic, string(data))
}

func (c *Client) handleAdminReqAck(f *wire.Frame) {
	c.cbMu.Lock()
	cb := c.adminRequestCb
	c.cbMu.Unlock()

	if f.Flags == 0 {
		var ok struct {
			Message   string `json:"message"`
			Topic     string `json:"topic"`
			TopicName string `json:"topic_name"`
		}
		if err := json.Unmarshal(f.Payload, &ok); err != nil && len(f.Payload) > 0 {
			c.logger.Debug("malformed admin ack", "error", err)
		}
		topic := firstNonEmpty(ok.TopicName, ok.Topic)
		c.logger.Info("admin request accepted", "topic", topic)
		if cb != nil {
			go cb(true, ok.Message, "SUCCESS", topic)
		}
		return
	}

	var ack struct {
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
		TopicName    string `json:"topic_name"`
	}
	if err := json.Unmarshal(f.Payload, &ack); err != nil {
		if cb != nil {
			go cb(false, "malformed admin request ack", "PACKET_ERROR", "")
		}
		return
	}
	c.logger.Warn("admin request denied", "topic", ack.TopicName, "code", ack.ErrorCode)
	c.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAdmin,
		Kind:      events.KindAdminResult,
		Data:      map[string]any{"topic": ack.TopicName, "approved": false, "error_code": ack.ErrorCode},
	})
	if cb != nil {
		go cb(false, ack.ErrorMessage, ack.ErrorCode, ack.TopicName)
	}
}

func (c *Client) handleAdminNotify(payload []byte) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		c.logger.Debug("dropping malformed ADMIN_NOTIFY", "error", err)
		return
	}
	c.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAdmin,
		Kind:      events.KindAdminRequest,
		Data:      data,
	})
	c.deliverAdminNotify(data)
}

func (c *Client) deliverAdminNotify(data map[string]any) {
	c.cbMu.Lock()
	cb := c.adminNotifyCb
	c.cbMu.Unlock()
	if cb != nil {
		go cb(data)
	}
}

func (c *Client) handleAdminResult(payload []byte) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		c.logger.Debug("dropping malformed ADMIN_RESULT", "error", err)
		return
	}
	c.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAdmin,
		Kind:      events.KindAdminResult,
		Data:      data,
	})

	c.cbMu.Lock()
	cb := c.adminResultCb
	c.cbMu.Unlock()
	if cb != nil {
		go cb(data)
	}
}

func (c *Client) handleSensorStatus(payload []byte) {
	var msg struct {
		TopicName  string   `json:"topic_name"`
		SensorName string   `json:"sensor_name"`
		Active     flexBool `json:"active"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Debug("dropping malformed SENSOR_STATUS_RESP", "error", err)
		return
	}
	status := SensorStatus{Topic: msg.TopicName, Sensor: msg.SensorName, Active: bool(msg.Active)}
	c.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAdmin,
		Kind:      events.KindSensorStatus,
		Data:      map[string]any{"topic": status.Topic, "sensor": status.Sensor, "active": status.Active},
	})

	c.cbMu.Lock()
	cb := c.sensorStatusCb
	c.cbMu.Unlock()
	if cb != nil {
		go cb(status)
	}
}

// flexBool accepts true/false, "true"/"false" in any ParseBool
// spelling, and 0/1, all of which appear in broker responses. A string
// that parses as neither reads as false so one odd sensor entry cannot
// fail a whole list response.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := strconv.ParseBool(s)
		if err != nil {
			// Unrecognized strings read as inactive.
			*b = false
			return nil
		}
		*b = flexBool(parsed)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*b = n != 0
		return nil
	}
	return fmt.Errorf("cannot parse %q as bool", data)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func numToInt64(n json.Number) int64 {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}
	return 0
}
