package format

import (
	"strings"
	"testing"
)

func TestIsTTY_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("TERM", "xterm-256color")

	if IsTTY() {
		t.Error("IsTTY() should be false when NO_COLOR is set")
	}
}

func TestIsTTY_DumbTerm(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("TERM", "dumb")

	if IsTTY() {
		t.Error("IsTTY() should be false when TERM is dumb")
	}
}

func TestIsTTY_EmptyTerm(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("TERM", "")

	if IsTTY() {
		t.Error("IsTTY() should be false when TERM is empty")
	}
}

func TestJSON(t *testing.T) {
	out, err := JSON(map[string]any{"command": "shutdown", "count": 2})
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}

	if !strings.Contains(out, `"command": "shutdown"`) {
		t.Errorf("output missing indented field: %s", out)
	}
	if !strings.HasPrefix(out, "{\n") {
		t.Errorf("output not indented: %s", out)
	}
}

func TestJSON_Unmarshalable(t *testing.T) {
	if _, err := JSON(make(chan int)); err == nil {
		t.Error("JSON() should fail for unmarshalable values")
	}
}

func TestAgo(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{5, "5s"},
		{59, "59s"},
		{60, "1m"},
		{3599, "59m"},
		{3600, "1h"},
		{8100, "2h15m"},
		{86400, "1d"},
		{200000, "2d"},
	}

	for _, tt := range tests {
		if got := Ago(tt.seconds); got != tt.want {
			t.Errorf("Ago(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
