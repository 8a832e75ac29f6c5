package rememberme

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAudit_Record(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	a := LogAudit{Log: slog.New(slog.NewJSONHandler(&buf, nil))}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "[2001:db8::1]:4711"
	ctx := withAuditClient(context.Background(), r)

	a.Record(ctx, AuditEvent{
		Action:     AuditTheftSuspected,
		OwnerModel: "users",
		OwnerID:    "2",
		Series:     "series_bar_1",
		At:         time.Now(),
	}.withClient(ctx))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, AuditTheftSuspected, got["msg"])
	assert.Equal(t, "users", got["owner_model"])
	assert.Equal(t, "series_bar_1", got["series"])
	assert.Equal(t, "2001:db8::1", got["ip"])
}

func TestAuditEvent_WithClientWithoutRequest(t *testing.T) {
	t.Parallel()

	ev := AuditEvent{Action: AuditIssued}.withClient(context.Background())
	assert.Nil(t, ev.IP)
	assert.Empty(t, ev.UserAgent)

	assert.Equal(t, context.Background(), withAuditClient(context.Background(), nil))
}

func TestNewPostgresAudit_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresAudit(nil, "", nil)
	assert.ErrorIs(t, err, ErrConfig)
}
