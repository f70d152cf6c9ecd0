package wire

import "testing"

func TestType_String(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeConn, "CONN"},
		{TypePub, "PUB"},
		{TypeAdminReqAck, "ADMIN_REQ_ACK"},
		{TypeMyAdminTopicsResp, "MY_ADMIN_TOPICS_RESP"},
		{TypeSensorStatusResp, "SENSOR_STATUS_RESP"},
		{Type(0x7F), "TYPE(0x7F)"},
		{Type(0x00), "TYPE(0x00)"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("Type(0x%02X).String() = %q, want %q", uint8(tt.typ), got, tt.want)
		}
	}
}

func TestType_WireValues(t *testing.T) {
	// The protocol gaps (0x15-0x1F, 0x28-0x34) are not valid types.
	tests := []struct {
		typ   Type
		valid bool
	}{
		{TypeConn, true},
		{TypeSensorStatusResp, true},
		{Type(0x15), false},
		{Type(0x1F), false},
		{Type(0x28), false},
		{Type(0x34), false},
		{Type(0x36), false},
	}

	for _, tt := range tests {
		if got := tt.typ.Valid(); got != tt.valid {
			t.Errorf("Type(0x%02X).Valid() = %v, want %v", uint8(tt.typ), got, tt.valid)
		}
	}

	// Pin the fixed wire values the broker depends on.
	pins := map[Type]uint8{
		TypeConn:             0x01,
		TypeConnack:          0x02,
		TypePub:              0x03,
		TypeSub:              0x05,
		TypeUnsub:            0x07,
		TypeTopicReq:         0x09,
		TypeAdminReqAck:      0x0C,
		TypeAdminNotify:      0x0D,
		TypeAdminResponse:    0x0E,
		TypeAdminResult:      0x0F,
		TypeAdminListReq:     0x10,
		TypeMyAdminReq:       0x13,
		TypeMyTopicsReq:      0x20,
		TypeMyAdminTopicsReq: 0x22,
		TypeAdminResign:      0x24,
		TypeTopicSensorsReq:  0x26,
		TypeTopicSensorsResp: 0x27,
		TypeSensorStatusResp: 0x35,
	}
	for typ, val := range pins {
		if uint8(typ) != val {
			t.Errorf("%s = 0x%02X, want 0x%02X", typ, uint8(typ), val)
		}
	}
}
