package message

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestRequestResponse(t *testing.T) {
	req := NewRequest("default", "id-1", "add", []any{1, 2})
	if !req.IsRequest() || req.IsResponse() {
		t.Fatalf("expect request kind, got %v", req.Kind)
	}

	resp := NewResult(req, 3)
	if !resp.IsResponse() || resp.Failed() {
		t.Fatalf("expect successful response, got %+v", resp)
	}
	if resp.ID != req.ID || resp.ChannelName != req.ChannelName {
		t.Fatalf("response must echo id and channel, got %+v", resp)
	}

	fail := NewError(req, "boom")
	if !fail.Failed() || fail.Error != "boom" {
		t.Fatalf("expect failed response carrying boom, got %+v", fail)
	}
}

func TestMarshalSkipsTransferList(t *testing.T) {
	req := NewRequest("default", "id-1", "echo", []any{"x"})
	req.Transfer = []any{"should not be encoded"}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	if strings.Contains(string(data), "should not be encoded") {
		t.Fatalf("transfer list leaked into payload: %s", data)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal with error: %v", err)
	}
	if decoded.Method != "echo" || decoded.ID != "id-1" || decoded.Kind != KindRequest {
		t.Fatalf("decoded request mismatch: %+v", decoded)
	}
}

func TestMarshalErrorValue(t *testing.T) {
	req := NewRequest("default", "id-2", "fail", nil)

	data, err := json.Marshal(NewError(req, errors.New("boom")))
	if err != nil {
		t.Fatal(err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Error != "boom" {
		t.Fatalf("expect error payload boom, got %#v", decoded.Error)
	}

	raw := map[string]any{"code": float64(7)}
	if got := ErrorPayload(raw); got.(map[string]any)["code"] != float64(7) {
		t.Fatalf("non-error values must pass unchanged, got %#v", got)
	}
}
