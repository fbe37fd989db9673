package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel("warning"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestWithContextAccumulatesAttributes(t *testing.T) {
	ctx := WithContext(context.Background(), slog.String("user_id", "u1"))
	ctx = WithContext(ctx, slog.String("turn_id", "t1"))

	attrs, _ := ctx.Value(ctxKey{}).([]slog.Attr)
	require.Len(t, attrs, 2)
	require.Equal(t, "user_id", attrs[0].Key)
	require.Equal(t, "turn_id", attrs[1].Key)
	require.NotNil(t, FromContext(ctx))
}

func TestBuildAuditLoggerRequiresPath(t *testing.T) {
	_, err := buildAuditLogger(AuditConfig{Enabled: true})
	require.Error(t, err)
}

func TestBuildAuditLoggerUsesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	audit, err := buildAuditLogger(AuditConfig{Enabled: true, Path: dir + "/audit/audit.log"})
	require.NoError(t, err)
	audit.Info("action_staged", slog.String("user_id", "u1"))
	require.NoError(t, Sync())
}
