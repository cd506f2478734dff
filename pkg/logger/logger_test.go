package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithConnectionID(ctx, "conn-1")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"req-123"`)) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"connection_id":"conn-1"`)) {
		t.Fatalf("expected connection_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("expected stack trace on error; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("expected stack when warn stack enabled")
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Output: buf})
	quiet.Warn(context.Background(), "warny")
	if bytes.Contains(buf.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("unexpected stack with warn stack disabled")
	}
}

func TestLoggerLevelFilters(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.WarnLevel, Output: buf})
	log.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level; entry=%s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" DEBUG "); lvl != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %v", lvl)
	}
}

func TestLoggerMasksSensitiveFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: "json"})

	ctx := log.WithFields(context.Background(), map[string]any{
		"refresh_token": "r-secret",
		"client_secret": "c-secret",
		"order_count":   3,
	})
	ctx = log.WithField(ctx, "Authorization", "Bearer abc")
	log.Info(ctx, "sync")

	for _, leaked := range []string{"r-secret", "c-secret", "Bearer abc"} {
		if bytes.Contains(buf.Bytes(), []byte(leaked)) {
			t.Fatalf("sensitive value %q leaked; entry=%s", leaked, buf.String())
		}
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"order_count":3`)) {
		t.Fatalf("expected plain field to survive; entry=%s", buf.String())
	}
}

func TestLoggerErrorCarriesCode(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: "json"})

	log.Error(context.Background(), "refresh failed", pkgerrors.New(pkgerrors.CodeReconnectRequired, "grant revoked"))
	if !bytes.Contains(buf.Bytes(), []byte(`"error_code":"RECONNECT_REQUIRED"`)) {
		t.Fatalf("expected error code; entry=%s", buf.String())
	}
}

func TestNopAndNilContext(t *testing.T) {
	log := Nop()
	//nolint:staticcheck // SA1012
	ctx := log.WithField(nil, "k", "v")
	if ctx == nil {
		t.Fatal("expected a context back")
	}
	log.Info(ctx, "discarded")
}
