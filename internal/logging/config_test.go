package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"warning": zerolog.WarnLevel,
	}
	for raw, want := range cases {
		got, ok := parseLevel(raw)
		if !ok || got != want {
			t.Fatalf("parseLevel(%q)=%v,%v want %v", raw, got, ok, want)
		}
	}
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
	if _, ok := parseLevel(""); ok {
		t.Fatalf("expected empty level to be ignored")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogBypass, "nope")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("level=%v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("timestamp override not applied")
	}
	if !cfg.NoColor {
		t.Fatalf("nocolor override not applied")
	}
	if cfg.Bypass {
		t.Fatalf("invalid bool must not flip bypass")
	}
}

func TestApplyWritesThroughGlobalLogger(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	apply(Config{Level: zerolog.InfoLevel, NoColor: true}, &buf)
	log.Debug().Msg("hidden")
	log.Info().Str("remote", "10.0.0.1:4000").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %q", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "remote=10.0.0.1:4000") {
		t.Fatalf("unexpected output: %q", out)
	}
}
