package session

import (
	"encoding/json"
	"reflect"
	"testing"
)

func doc(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return m
}

func TestMergeStatus(t *testing.T) {
	tests := []struct {
		name  string
		dst   string
		delta string
		want  string
	}{
		{
			name:  "scalar inside object merged",
			dst:   `{"light:0":{"brightness":0,"output":false}}`,
			delta: `{"light:0":{"brightness":10}}`,
			want:  `{"light:0":{"brightness":10,"output":false}}`,
		},
		{
			name:  "explicit null overwrites object",
			dst:   `{"light:0":{"transition":{"duration":5},"output":true}}`,
			delta: `{"light:0":{"transition":null}}`,
			want:  `{"light:0":{"transition":null,"output":true}}`,
		},
		{
			name:  "non-object overwrites object",
			dst:   `{"wifi":{"ssid":"net","rssi":-60}}`,
			delta: `{"wifi":"down"}`,
			want:  `{"wifi":"down"}`,
		},
		{
			name:  "object overwrites scalar",
			dst:   `{"wifi":"down"}`,
			delta: `{"wifi":{"ssid":"net"}}`,
			want:  `{"wifi":{"ssid":"net"}}`,
		},
		{
			name:  "new top-level key added",
			dst:   `{"switch:0":{"output":true}}`,
			delta: `{"switch:1":{"output":false}}`,
			want:  `{"switch:0":{"output":true},"switch:1":{"output":false}}`,
		},
		{
			name:  "nested recursion",
			dst:   `{"sys":{"mqtt":{"connected":false},"uptime":1}}`,
			delta: `{"sys":{"mqtt":{"connected":true}}}`,
			want:  `{"sys":{"mqtt":{"connected":true},"uptime":1}}`,
		},
		{
			name:  "array overwrites outright",
			dst:   `{"schedules":[1,2,3]}`,
			delta: `{"schedules":[4]}`,
			want:  `{"schedules":[4]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeStatus(doc(t, tt.dst), doc(t, tt.delta))
			want := doc(t, tt.want)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("mergeStatus() = %v, want %v", got, want)
			}
		})
	}
}

func TestMergeStatusNilDestination(t *testing.T) {
	got := mergeStatus(nil, doc(t, `{"sys":{"uptime":1}}`))
	if !reflect.DeepEqual(got, doc(t, `{"sys":{"uptime":1}}`)) {
		t.Errorf("mergeStatus(nil, delta) = %v", got)
	}
}
