package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestCodeMetadata(t *testing.T) {
	tests := []struct {
		code          Code
		status        int
		publicMsg     string
		clientMessage bool
		detailsOK     bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", clientMessage: true, detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required", clientMessage: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found", clientMessage: true},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected", clientMessage: true},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", clientMessage: true, detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error"},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", detailsOK: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded", clientMessage: true},
		{code: CodeReconnectRequired, status: http.StatusConflict, publicMsg: "marketplace connection must be re-authorized", clientMessage: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := tt.code.Metadata()
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.ClientMessage != tt.clientMessage {
			t.Fatalf("code %s expected client message %v got %v", tt.code, tt.clientMessage, meta.ClientMessage)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestRender(t *testing.T) {
	got := Render(fmt.Errorf("wrap: %w", New(CodeRateLimit, "slow down")))
	if got.Status != http.StatusTooManyRequests || got.Message != "slow down" {
		t.Fatalf("unexpected rendering %+v", got)
	}

	got = Render(stdErrors.New("dial tcp 10.0.0.3:5432: refused"))
	if got.Status != http.StatusInternalServerError || got.Code != CodeInternal {
		t.Fatalf("expected internal error, got %+v", got)
	}
	if got.Message != "internal server error" {
		t.Fatalf("untyped error text leaked: %q", got.Message)
	}

	dep := Wrap(CodeDependency, stdErrors.New("timeout"), "bigquery insert failed").WithDetails(map[string]any{"dependency": "bigquery"})
	got = Render(dep)
	if got.Message != "dependency unavailable" {
		t.Fatalf("server-side message leaked: %q", got.Message)
	}
	if got.Details == nil {
		t.Fatal("dependency details should be rendered")
	}

	got = Render(New(CodeNotFound, "link not found").WithDetails("hidden"))
	if got.Details != nil {
		t.Fatalf("details must be dropped for %s, got %v", CodeNotFound, got.Details)
	}
}

func TestErrorStringFallsBackToCause(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("redis: nil"), "")
	if err.Error() != "DEPENDENCY_ERROR: redis: nil" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := Code("SOMETHING_UNKNOWN").Metadata()
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeNotFound, "no link")
	if got := As(err); got == nil || got.Code() != CodeNotFound {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsCodeWalksWrappedChain(t *testing.T) {
	inner := New(CodeReconnectRequired, "token revoked")
	outer := fmt.Errorf("sync connection: %w", inner)

	if !IsCode(outer, CodeReconnectRequired) {
		t.Fatalf("expected wrapped error to carry reconnect code")
	}
	if IsCode(outer, CodeDependency) {
		t.Fatalf("unexpected dependency code match")
	}
	if IsCode(stdErrors.New("plain"), CodeReconnectRequired) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestDumpIncludesChain(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("connection reset"), "list orders")
	d := Dump(err)
	if d.Code != CodeDependency {
		t.Fatalf("expected dependency code in dump, got %s", d.Code)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %d", len(d.Chain))
	}
	fields := d.LogFields()
	if _, ok := fields["pg_code"]; ok {
		t.Fatal("pg fields must be omitted without a driver error")
	}
	if fields["error_code"] != CodeDependency {
		t.Fatalf("unexpected log fields %v", fields)
	}
}

func TestDumpExtractsPostgresDiagnostics(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "orders_connection_line_key", TableName: "orders"}
	d := Dump(Wrap(CodeConflict, fmt.Errorf("insert order: %w", pgErr), "ingest"))
	if d.PGCode != "23505" || d.PGConstraint != "orders_connection_line_key" {
		t.Fatalf("unexpected pg diagnostics %+v", d)
	}
	fields := d.LogFields()
	if fields["pg_table"] != "orders" {
		t.Fatalf("expected pg_table in log fields, got %v", fields)
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatal("empty pg fields should be dropped")
	}
}
