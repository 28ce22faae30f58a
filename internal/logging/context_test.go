// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestGenerateRequestID(t *testing.T) {
	t.Parallel()

	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == "" {
		t.Error("expected non-empty request ID")
	}
	if len(id1) != 36 { // UUID format
		t.Errorf("expected 36-character request ID, got %d", len(id1))
	}
	if id1 == id2 {
		t.Error("expected unique request IDs")
	}
}

func TestRequestIDContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	id := RequestIDFromContext(ctx)
	if id != "" {
		t.Errorf("expected empty request ID for bare context, got %s", id)
	}

	ctx = ContextWithRequestID(ctx, "req-456")
	id = RequestIDFromContext(ctx)
	if id != "req-456" {
		t.Errorf("expected 'req-456', got '%s'", id)
	}
}

func TestCtxInfo(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	ctx := ContextWithRequestID(context.Background(), "req-789")
	CtxInfo(ctx).Msg("admitted")

	output := buf.String()
	if !strings.Contains(output, "req-789") {
		t.Errorf("expected request_id in output: %s", output)
	}
	if !strings.Contains(output, "admitted") {
		t.Errorf("expected message in output: %s", output)
	}
}

func TestCtxInfo_NoRequestID(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	CtxInfo(context.Background()).Msg("no request id")

	output := buf.String()
	if strings.Contains(output, "request_id") {
		t.Errorf("expected no request_id field when none was set in context: %s", output)
	}
}

func TestCtxErr(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	ctx := ContextWithRequestID(context.Background(), "req-err-123")
	CtxErr(ctx, &testError{msg: "store fault"}).Msg("cleanup failed")

	output := buf.String()
	if !strings.Contains(output, "req-err-123") {
		t.Errorf("expected request_id in output: %s", output)
	}
	if !strings.Contains(output, "store fault") {
		t.Errorf("expected error in output: %s", output)
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string { return e.msg }
