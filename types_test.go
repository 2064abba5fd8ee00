package mcp

import (
	"encoding/json"
	"testing"
)

func TestRequestIDEqual(t *testing.T) {
	tests := []struct {
		name string
		a    RequestID
		b    RequestID
		want bool
	}{
		{"same int", NewRequestID(1), NewRequestID(1), true},
		{"different int", NewRequestID(1), NewRequestID(2), false},
		{"same string", NewStringRequestID("a"), NewStringRequestID("a"), true},
		{"different string", NewStringRequestID("a"), NewStringRequestID("b"), false},
		{"cross variant same text", NewRequestID(1), NewStringRequestID("1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestIDJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   RequestID
	}{
		{"int", NewRequestID(42)},
		{"string", NewStringRequestID("abc")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bs, err := json.Marshal(tt.id)
			if err != nil {
				t.Fatalf("Marshal() error: %v", err)
			}
			var got RequestID
			if err := json.Unmarshal(bs, &got); err != nil {
				t.Fatalf("Unmarshal() error: %v", err)
			}
			if !got.Equal(tt.id) {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, tt.id)
			}
		})
	}
}

func TestJSONRPCMessageKind(t *testing.T) {
	id := NewRequestID(1)

	request := JSONRPCMessage{ID: &id, Method: "ping"}
	if !request.IsRequest() || request.IsResponse() || request.IsNotification() {
		t.Errorf("request classified wrong: %+v", request)
	}

	response := JSONRPCMessage{ID: &id, Result: json.RawMessage(`{}`)}
	if !response.IsResponse() || response.IsRequest() || response.IsNotification() {
		t.Errorf("response classified wrong: %+v", response)
	}

	notification := JSONRPCMessage{Method: "notifications/initialized"}
	if !notification.IsNotification() || notification.IsRequest() || notification.IsResponse() {
		t.Errorf("notification classified wrong: %+v", notification)
	}
}

func TestLogLevelAtLeast(t *testing.T) {
	if !LogLevelError.AtLeast(LogLevelWarning) {
		t.Error("error should be at least warning severity")
	}
	if LogLevelDebug.AtLeast(LogLevelWarning) {
		t.Error("debug should not be at least warning severity")
	}
	if !LogLevelWarning.AtLeast(LogLevelWarning) {
		t.Error("a level should be at least itself")
	}
}

func TestJSONRPCErrorImplementsError(t *testing.T) {
	var err error = JSONRPCError{Code: ErrCodeInvalidParams, Message: "bad params"}
	if err.Error() == "" {
		t.Error("expected non-empty error string")
	}
}
