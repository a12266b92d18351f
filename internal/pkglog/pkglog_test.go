package pkglog

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNew_VerbosityControlsLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		want      log.Level
	}{
		{0, log.WarnLevel},
		{1, log.InfoLevel},
		{2, log.DebugLevel},
		{5, log.DebugLevel},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		l := New(&buf, tt.verbosity)
		if l.GetLevel() != tt.want {
			t.Errorf("New(verbosity=%d).GetLevel() = %v, want %v", tt.verbosity, l.GetLevel(), tt.want)
		}
	}
}

func TestSink_DispatchesOnPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 2)
	sink := Sink(l)

	sink("NOTICE: %s unsatisfied", "foo")
	if !strings.Contains(buf.String(), "foo") {
		t.Errorf("expected NOTICE message to be logged, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "notice=true") {
		t.Errorf("expected NOTICE message to carry a notice key, got %q", buf.String())
	}
}

func TestContext_RoundTrip(t *testing.T) {
	l := New(&bytes.Buffer{}, 0)
	ctx := WithLogger(context.Background(), l)
	if got := FromContext(ctx); got != l {
		t.Error("FromContext did not return the logger stored by WithLogger")
	}
}

func TestContext_DefaultWithoutLogger(t *testing.T) {
	if got := FromContext(context.Background()); got == nil {
		t.Error("FromContext on empty context returned nil, want log.Default()")
	}
}
