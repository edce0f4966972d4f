package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{" 1 ", false, true},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("SYMPTOMPIPE_TEST_BOOL", tt.value)
			if got := ParseBoolEnv("SYMPTOMPIPE_TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("ParseBoolEnv(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("SYMPTOMPIPE_TEST_INT", "8")
	if got := ParseIntEnv("SYMPTOMPIPE_TEST_INT", 7); got != 8 {
		t.Errorf("expected 8, got %d", got)
	}
	t.Setenv("SYMPTOMPIPE_TEST_INT", "eight")
	if got := ParseIntEnv("SYMPTOMPIPE_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("SYMPTOMPIPE_TEST_FLOAT", "52.52")
	if got, ok := ParseFloatEnv("SYMPTOMPIPE_TEST_FLOAT"); !ok || got != 52.52 {
		t.Errorf("expected 52.52, got %v (ok=%v)", got, ok)
	}
	t.Setenv("SYMPTOMPIPE_TEST_FLOAT", "")
	if _, ok := ParseFloatEnv("SYMPTOMPIPE_TEST_FLOAT"); ok {
		t.Error("expected unset variable to report false")
	}
}
