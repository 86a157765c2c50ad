package transport

import "testing"

func TestGenerateAddress(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		addr, err := GenerateAddress()
		if err != nil {
			t.Fatalf("GenerateAddress failed: %v", err)
		}
		if len(addr) != AddressLength {
			t.Errorf("expected length %d, got %d", AddressLength, len(addr))
		}
		if !ValidAddress(addr) {
			t.Errorf("generated invalid address %q", addr)
		}
		if seen[addr] {
			t.Errorf("duplicate address %q", addr)
		}
		seen[addr] = true
	}
}

func TestValidAddress(t *testing.T) {
	cases := map[string]bool{
		"abcXYZ019":   true,
		"":            false,
		"has space":   false,
		"dash-ed":     false,
		"ünicode":     false,
		"A1b2C3d4E5f": true,
	}
	for addr, want := range cases {
		if got := ValidAddress(addr); got != want {
			t.Errorf("ValidAddress(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestWebsocketURL(t *testing.T) {
	cases := []struct {
		base, path, want string
		wantErr          bool
	}{
		{"http://localhost:3001", "/presence", "ws://localhost:3001/presence", false},
		{"https://drop.example.com/", "/signal", "wss://drop.example.com/signal", false},
		{"ws://10.0.0.1:3001/base", "/presence", "ws://10.0.0.1:3001/base/presence", false},
		{"ftp://nope", "/presence", "", true},
		{"http://", "/presence", "", true},
	}
	for _, tc := range cases {
		got, err := WebsocketURL(tc.base, tc.path)
		if tc.wantErr {
			if err == nil {
				t.Errorf("WebsocketURL(%q) expected error", tc.base)
			}
			continue
		}
		if err != nil {
			t.Errorf("WebsocketURL(%q) failed: %v", tc.base, err)
			continue
		}
		if got != tc.want {
			t.Errorf("WebsocketURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}
