package main

import "testing"

func TestGetenvDefault(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		def      string
		envValue string
		want     string
	}{
		{name: "env var set", key: "TEST_VAR_SET", def: "default", envValue: "custom", want: "custom"},
		{name: "env var empty", key: "TEST_VAR_EMPTY", def: "default", envValue: "", want: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)
			if got := getenvDefault(tt.key, tt.def); got != tt.want {
				t.Errorf("getenvDefault(%q, %q) = %q, want %q", tt.key, tt.def, got, tt.want)
			}
		})
	}
}
