package wire

import "fmt"

// Type identifies a TinyMQ packet. The values are fixed by the wire
// protocol and must never be renumbered.
type Type uint8

const (
	TypeConn              Type = 0x01
	TypeConnack           Type = 0x02
	TypePub               Type = 0x03
	TypePuback            Type = 0x04
	TypeSub               Type = 0x05
	TypeSuback            Type = 0x06
	TypeUnsub             Type = 0x07
	TypeUnsuback          Type = 0x08
	TypeTopicReq          Type = 0x09
	TypeTopicResp         Type = 0x0A
	TypeAdminReq          Type = 0x0B
	TypeAdminReqAck       Type = 0x0C
	TypeAdminNotify       Type = 0x0D
	TypeAdminResponse     Type = 0x0E
	TypeAdminResult       Type = 0x0F
	TypeAdminListReq      Type = 0x10
	TypeAdminListResp     Type = 0x11
	TypeAdminResp         Type = 0x12
	TypeMyAdminReq        Type = 0x13
	TypeMyAdminResp       Type = 0x14
	TypeMyTopicsReq       Type = 0x20
	TypeMyTopicsResp      Type = 0x21
	TypeMyAdminTopicsReq  Type = 0x22
	TypeMyAdminTopicsResp Type = 0x23
	TypeAdminResign       Type = 0x24
	TypeAdminResignAck    Type = 0x25
	TypeTopicSensorsReq   Type = 0x26
	TypeTopicSensorsResp  Type = 0x27
	TypeSensorStatusResp  Type = 0x35
)

var typeNames = map[Type]string{
	TypeConn:              "CONN",
	TypeConnack:           "CONNACK",
	TypePub:               "PUB",
	TypePuback:            "PUBACK",
	TypeSub:               "SUB",
	TypeSuback:            "SUBACK",
	TypeUnsub:             "UNSUB",
	TypeUnsuback:          "UNSUBACK",
	TypeTopicReq:          "TOPIC_REQ",
	TypeTopicResp:         "TOPIC_RESP",
	TypeAdminReq:          "ADMIN_REQ",
	TypeAdminReqAck:       "ADMIN_REQ_ACK",
	TypeAdminNotify:       "ADMIN_NOTIFY",
	TypeAdminResponse:     "ADMIN_RESPONSE",
	TypeAdminResult:       "ADMIN_RESULT",
	TypeAdminListReq:      "ADMIN_LIST_REQ",
	TypeAdminListResp:     "ADMIN_LIST_RESP",
	TypeAdminResp:         "ADMIN_RESP",
	TypeMyAdminReq:        "MY_ADMIN_REQ",
	TypeMyAdminResp:       "MY_ADMIN_RESP",
	TypeMyTopicsReq:       "MY_TOPICS_REQ",
	TypeMyTopicsResp:      "MY_TOPICS_RESP",
	TypeMyAdminTopicsReq:  "MY_ADMIN_TOPICS_REQ",
	TypeMyAdminTopicsResp: "MY_ADMIN_TOPICS_RESP",
	TypeAdminResign:       "ADMIN_RESIGN",
	TypeAdminResignAck:    "ADMIN_RESIGN_ACK",
	TypeTopicSensorsReq:   "TOPIC_SENSORS_REQ",
	TypeTopicSensorsResp:  "TOPIC_SENSORS_RESP",
	TypeSensorStatusResp:  "SENSOR_STATUS_RESP",
}

// Valid reports whether t is a member of the closed packet type set.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// String returns the protocol name of the type, or TYPE(0xNN) for
// values outside the known set.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE(0x%02X)", uint8(t))
}
