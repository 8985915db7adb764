package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_CALLER", "yes")

	opt := FromEnv()
	if opt.Level != "debug" || opt.Format != "json" || !opt.WithCaller {
		t.Fatalf("unexpected options: %+v", opt)
	}
	if opt.Service != "hybrid-router" {
		t.Fatalf("default service = %q", opt.Service)
	}
}

func TestNamedAndNop(t *testing.T) {
	if Named("router") == nil {
		t.Fatal("Named returned nil")
	}
	if Get() != Named("") {
		t.Fatal("Named(\"\") should return the root logger")
	}
	if Nop().GetLevel() != zerolog.Disabled {
		t.Fatal("Nop logger should be disabled")
	}
}
