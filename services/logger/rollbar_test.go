package logsvc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/core/user"
)

func TestRollbarLogger(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	logger := NewRollbarLogger(zap.New(obs), core.NewTestConfig())

	usr := user.User{ID: "u1", Username: "ada", Email: "ada@test.io"}
	logger.Error("boom", errors.New("db down"), map[string]interface{}{"route": "/api/feedback"}, usr, user.User{ID: "u2"})
	logger.Warn("slow")
	logger.Debug("details", 42)

	entries := logs.All()
	require.Len(t, entries, 3)

	boom := entries[0]
	assert.Equal(t, zapcore.ErrorLevel, boom.Level)
	fields := boom.ContextMap()
	assert.Equal(t, "db down", fields["error"])
	assert.Equal(t, "/api/feedback", fields["route"])
	assert.Equal(t, "u1", fields["user_id"], "only the first person is kept")

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Empty(t, entries[1].Context)
	assert.Equal(t, int64(42), entries[2].ContextMap()["extra"])
}

func TestNewZap(t *testing.T) {
	assert.False(t, NewZap(core.NewTestConfig(), "api").Core().Enabled(zapcore.FatalLevel), "silent in tests")

	conf := core.NewTestConfig()
	conf.TestMode = false
	conf.Debug = true
	assert.True(t, NewZap(conf, "api").Core().Enabled(zapcore.DebugLevel))
}
