package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("relationship", "upload_credit").Info("constraint installed")

	entry := logLine(t, &buf)
	assert.Equal(t, "constraint installed", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "upload_credit", entry["relationship"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("suppressed")
	assert.Zero(t, buf.Len())

	logger.Warn("emitted")
	assert.NotZero(t, buf.Len())
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("boom")).Error("operation failed")
	entry := logLine(t, &buf)
	assert.Equal(t, "boom", entry["error"])

	// nil error is a no-op
	assert.Same(t, logger, logger.WithError(nil))
}

func TestContextPropagation(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-42")
	ctx = WithPrincipalID(ctx, 7)

	assert.Equal(t, "req-42", GetRequestID(ctx))
	assert.Equal(t, int64(7), GetPrincipalID(ctx))

	// empty context yields zero values
	assert.Equal(t, "", GetRequestID(context.Background()))
	assert.Equal(t, int64(0), GetPrincipalID(context.Background()))
}

func TestFromContextCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithPrincipalID(ctx, 9)

	FromContext(ctx).Info("handled")

	entry := logLine(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, float64(9), entry["principal_id"])
}
