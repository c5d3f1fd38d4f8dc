package commands

import "testing"

func TestParseValue(t *testing.T) {
	tests := []struct {
		key, in string
		want    interface{}
		wantErr bool
	}{
		{"server_port", "9090", 9090, false},
		{"sources_enabled", "true", true, false},
		{"log_level", "debug", "debug", false},
		{"log_level", "loud", nil, true},
		{"capture.fps", "thirty", "thirty", false},
	}

	for _, tt := range tests {
		got, err := parseValue(tt.key, tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseValue(%q, %q) error = %v, wantErr %v", tt.key, tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("parseValue(%q, %q) = %#v, want %#v", tt.key, tt.in, got, tt.want)
		}
	}
}
