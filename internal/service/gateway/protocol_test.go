package gateway

import (
	"io"
	"testing"
	"time"

	"log/slog"
)

func testGateway() *Service {
	return New(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubmitPositionPayloadValidation(t *testing.T) {
	s := testGateway()
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid", `{"type":"submit-position","agent_id":7,"latitude":19.43,"longitude":-99.13}`, true},
		{"zero coordinates valid", `{"type":"submit-position","agent_id":7,"latitude":0,"longitude":0}`, true},
		{"missing latitude", `{"type":"submit-position","agent_id":7,"longitude":-99.13}`, false},
		{"missing longitude", `{"type":"submit-position","agent_id":7,"latitude":19.43}`, false},
		{"missing agent", `{"type":"submit-position","latitude":19.43,"longitude":-99.13}`, false},
		{"latitude out of range", `{"type":"submit-position","agent_id":7,"latitude":91,"longitude":0}`, false},
		{"longitude out of range", `{"type":"submit-position","agent_id":7,"latitude":0,"longitude":-181}`, false},
		{"non-numeric latitude", `{"type":"submit-position","agent_id":7,"latitude":"19.43","longitude":0}`, false},
		{"bad presence snapshot", `{"type":"submit-position","agent_id":7,"latitude":0,"longitude":0,"presence":"offline"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := decode[submitPositionPayload]([]byte(tc.raw))
			if err == nil {
				err = s.validate.Struct(payload)
			}
			if tc.ok && err != nil {
				t.Fatalf("expected payload to pass, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected payload to be rejected")
			}
		})
	}
}

func TestSetPresencePayloadValidation(t *testing.T) {
	s := testGateway()
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"available", `{"type":"set-presence","agent_id":7,"presence":"available"}`, true},
		{"busy", `{"type":"set-presence","agent_id":7,"presence":"busy"}`, true},
		{"unknown state", `{"type":"set-presence","agent_id":7,"presence":"away"}`, false},
		{"missing presence", `{"type":"set-presence","agent_id":7}`, false},
		{"missing agent", `{"type":"set-presence","presence":"busy"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := decode[setPresencePayload]([]byte(tc.raw))
			if err == nil {
				err = s.validate.Struct(payload)
			}
			if tc.ok && err != nil {
				t.Fatalf("expected payload to pass, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected payload to be rejected")
			}
		})
	}
}

func TestCapturedTime(t *testing.T) {
	var payload submitPositionPayload
	if !payload.capturedTime().IsZero() {
		t.Fatal("absent stamp must map to the zero time")
	}

	payload.CapturedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	got := payload.capturedTime()
	if !got.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected capture time %v", got)
	}
}

func TestEnvelopeTypeDiscriminator(t *testing.T) {
	head, err := decode[envelope]([]byte(`{"type":"join-agent","agent_id":7}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if head.Type != typeJoinAgent {
		t.Fatalf("unexpected type %q", head.Type)
	}

	if _, err := decode[envelope]([]byte(`{"type":`)); err == nil {
		t.Fatal("truncated json must fail to decode")
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	raw := `{"type":"submit-position","agent_id":7,"latitude":1,"longitude":2,"battery":0.5}`
	payload, err := decode[submitPositionPayload]([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.AgentID != 7 || *payload.Latitude != 1 || *payload.Longitude != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
