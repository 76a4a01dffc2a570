package zigbee

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTopics(t *testing.T) {
	key := "zigbee00124b0001abcdef1"
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"discovery", DiscoveryTopic(), "graylogic/discovery/zigbee"},
		{"state", StateTopic(key, 238), "graylogic/state/zigbee/zigbee00124b0001abcdef1/238"},
		{"command", CommandTopic(key, 238), "graylogic/command/zigbee/zigbee00124b0001abcdef1/238"},
		{"ack", AckTopic(key, 238), "graylogic/ack/zigbee/zigbee00124b0001abcdef1/238"},
		{"request", RequestTopic("req-1"), "graylogic/request/zigbee/req-1"},
		{"response", ResponseTopic("req-1"), "graylogic/response/zigbee/req-1"},
		{"announce", AnnounceTopic(), "graylogic/announce/zigbee"},
		{"health", HealthTopic(), "graylogic/health/zigbee"},
		{"command subscribe", CommandSubscribeTopic(), "graylogic/command/zigbee/#"},
		{"request subscribe", RequestSubscribeTopic(), "graylogic/request/zigbee/#"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s topic = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestParseDeviceAddress(t *testing.T) {
	key, cat, err := ParseDeviceAddress("zigbee00124b0001abcdef1/243")
	if err != nil {
		t.Fatalf("ParseDeviceAddress() error = %v", err)
	}
	if key != "zigbee00124b0001abcdef1" || cat != 243 {
		t.Errorf("got (%q, %d)", key, cat)
	}

	for _, bad := range []string{"", "nokey", "/238", "key/", "key/abc"} {
		if _, _, err := ParseDeviceAddress(bad); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("ParseDeviceAddress(%q) error = %v, want ErrDeviceNotFound", bad, err)
		}
	}
}

func TestRequestMessage_PairingTime(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		want    int
		wantErr bool
	}{
		{"absent", nil, 0, false},
		{"null", map[string]any{"pairing_time": nil}, 0, false},
		{"json number", map[string]any{"pairing_time": float64(90)}, 90, false},
		{"int", map[string]any{"pairing_time": 30}, 30, false},
		{"string", map[string]any{"pairing_time": " 45 "}, 45, false},
		{"json.Number", map[string]any{"pairing_time": json.Number("12")}, 12, false},
		{"fraction", map[string]any{"pairing_time": 1.5}, 0, true},
		{"word", map[string]any{"pairing_time": "soon"}, 0, true},
		{"bool", map[string]any{"pairing_time": true}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RequestMessage{Params: tt.params}.PairingTime()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPairingTime) {
					t.Errorf("error = %v, want ErrInvalidPairingTime", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("PairingTime() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequestMessage_DecodesFromJSON(t *testing.T) {
	var req RequestMessage
	raw := `{"request_id":"r1","action":"start_pairing","params":{"pairing_time":120}}`
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if req.Action != ActionStartPairing {
		t.Errorf("Action = %q", req.Action)
	}
	if secs, err := req.PairingTime(); err != nil || secs != 120 {
		t.Errorf("PairingTime() = %d, %v", secs, err)
	}
}

func TestNewStateMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	msg := NewStateMessage(Event{Key: "k", Category: CategoryMetering, Value: int64(42), Timestamp: at})

	if msg.Key != "k" || msg.Category != 243 || msg.Protocol != Protocol || msg.Value != int64(42) {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Timestamp.Location() != time.UTC || !msg.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v in UTC", msg.Timestamp, at)
	}
}

func TestNewRegisterMessage(t *testing.T) {
	a := NewOnOffAdapter(newTestCluster(NewMockConnector(), ClusterOnOff, 1),
		AdapterMeta{Key: "zigbee00124b0001abcdef1", Name: "On/Off - Switch1", Category: CategoryOnOff},
		AdapterOptions{})

	msg := NewRegisterMessage("zigbee", a)
	if msg.Bridge != "zigbee" || msg.Key != a.Key() || msg.Name != "On/Off - Switch1" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Category != 238 || msg.CategoryName != "On/Off" || !msg.Writable {
		t.Errorf("category/writable = %d %q %v", msg.Category, msg.CategoryName, msg.Writable)
	}
	if msg.Node != "00124b0001abcdef" || msg.Endpoint != 1 || msg.Cluster != ClusterNameOnOff {
		t.Errorf("binding = %s/%d/%s", msg.Node, msg.Endpoint, msg.Cluster)
	}
}

func TestAckMessages(t *testing.T) {
	cmd := CommandMessage{ID: "c1", Value: true}

	ok := NewAckMessage(cmd, "k", 238)
	if ok.CommandID != "c1" || ok.Status != AckAccepted || ok.Error != nil || ok.Protocol != Protocol {
		t.Errorf("ack = %+v", ok)
	}

	failed := NewAckError(cmd, "k", 238, ErrCodeNotWritable, "read only")
	if failed.Status != AckFailed || failed.Error == nil || failed.Error.Code != ErrCodeNotWritable {
		t.Errorf("ack error = %+v", failed)
	}

	b, err := json.Marshal(ok)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, present := fields["error"]; present {
		t.Error("accepted ack should omit the error field")
	}
}

func TestNewLWTMessage(t *testing.T) {
	msg := NewLWTMessage("zigbee")
	if msg.Status != HealthOffline || msg.Reason != "unexpected_disconnect" || msg.Bridge != "zigbee" {
		t.Errorf("LWT = %+v", msg)
	}
}
