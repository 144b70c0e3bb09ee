package rpc

import (
	"errors"
	"testing"
)

func TestFrameClassification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want FrameKind
	}{
		{
			name: "peer call",
			raw:  `{"id":7,"method":"Shelly.GetStatus","src":"shellyplus1-a8032ab12345"}`,
			want: FrameCall,
		},
		{
			name: "notification",
			raw:  `{"method":"NotifyStatus","params":{"switch:0":{"output":true}}}`,
			want: FrameNotification,
		},
		{
			name: "result response",
			raw:  `{"id":3,"result":{"ok":true}}`,
			want: FrameResponse,
		},
		{
			name: "error response",
			raw:  `{"id":4,"error":{"code":401,"message":"{\"nonce\":1}"}}`,
			want: FrameResponse,
		},
		{
			name: "id zero is still a response",
			raw:  `{"id":0,"result":null}`,
			want: FrameResponse,
		},
		{
			name: "empty object",
			raw:  `{}`,
			want: FrameMalformed,
		},
		{
			name: "unrelated fields",
			raw:  `{"foo":1,"bar":"baz"}`,
			want: FrameMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}
			if got := f.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeFrameInvalidJSON(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"id":`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestFrameResponseConversion(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"id":9,"src":"dev","error":{"code":404,"message":"no handler"}}`))
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	resp, err := f.Response()
	if err != nil {
		t.Fatalf("Response() failed: %v", err)
	}
	if resp.ID != 9 {
		t.Errorf("ID = %d, want 9", resp.ID)
	}
	if resp.Error == nil || resp.Error.Code != 404 {
		t.Errorf("Error = %+v, want code 404", resp.Error)
	}

	// A notification frame must not convert.
	nf, _ := DecodeFrame([]byte(`{"method":"NotifyEvent"}`))
	if _, err := nf.Response(); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame for notification, got %v", err)
	}
}

func TestResponseValidate(t *testing.T) {
	r := &Response{ID: 1}
	if err := r.Validate(); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}

	r.Result = []byte(`null`)
	if err := r.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestNotImplementedResponse(t *testing.T) {
	resp := NotImplementedResponse(11, "client-1", "shelly1-abc")
	if resp.ID != 11 {
		t.Errorf("ID = %d, want 11", resp.ID)
	}
	if resp.Error == nil || resp.Error.Code != CodeNotImplemented {
		t.Errorf("Error = %+v, want code %d", resp.Error, CodeNotImplemented)
	}
}
