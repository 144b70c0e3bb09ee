package device

import "testing"

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already normalized", "A8032AB12345", "A8032AB12345"},
		{"lowercase", "a8032ab12345", "A8032AB12345"},
		{"colon separated", "a8:03:2a:b1:23:45", "A8032AB12345"},
		{"dash separated", "A8-03-2A-B1-23-45", "A8032AB12345"},
		{"dot separated", "a803.2ab1.2345", "A8032AB12345"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeMAC(tt.in); got != tt.want {
				t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMatchesMAC(t *testing.T) {
	ident := &Identity{MAC: "A8032AB12345"}

	if !ident.MatchesMAC("a8:03:2a:b1:23:45") {
		t.Error("expected separator-insensitive match")
	}
	if !ident.MatchesMAC("") {
		t.Error("empty expectation must match")
	}
	if ident.MatchesMAC("A8032AB99999") {
		t.Error("different MAC must not match")
	}
}
