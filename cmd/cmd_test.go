package cmd

import "testing"

func TestValidateAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:8080", false},
		{"localhost:8080", false},
		{":8080", false},
		{":0", false},
		{"[::1]:8080", false},
		{"8080", true},
		{"127.0.0.1:", true},
		{"127.0.0.1:abc", true},
		{"127.0.0.1:70000", true},
		{"bad host:8080", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := validateAddr(tt.addr)
			if tt.wantErr && err == nil {
				t.Fatalf("validateAddr(%q) = nil, want error", tt.addr)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("validateAddr(%q) = %v, want nil", tt.addr, err)
			}
		})
	}
}
