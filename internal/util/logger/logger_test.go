package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSetOutput_ExistingLogger 测试已创建的 Logger 跟随输出切换
func TestSetOutput_ExistingLogger(t *testing.T) {
	log := Logger("test-output")

	buf := &bytes.Buffer{}
	SetOutput(buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	log.Info("after switch", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "after switch")
	assert.Contains(t, out, "key=value")
	assert.Contains(t, out, "subsystem=test-output")
	assert.Contains(t, out, "level=info")
}

// TestSetLevel_DerivedLogger 测试派生 Logger 共享级别
func TestSetLevel_DerivedLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	derived := Logger("test-level").With("session", "s1")

	SetLevel("test-level", slog.LevelWarn)
	derived.Info("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	SetLevel("test-level", slog.LevelDebug)
	derived.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "session=s1")
}

// TestParseEnv 测试环境变量解析
func TestParseEnv(t *testing.T) {
	env := map[string]string{
		EnvLevel:     "rendezvous=debug, swarm=warn ,error,bogus=nope",
		EnvFormat:    "JSON",
		EnvAddSource: "1",
	}
	cfg := parseEnv(func(k string) string { return env[k] })

	require.NotNil(t, cfg)
	assert.Equal(t, slog.LevelError, cfg.DefaultLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LevelForSubsystem("rendezvous"))
	assert.Equal(t, slog.LevelWarn, cfg.LevelForSubsystem("swarm"))
	assert.Equal(t, slog.LevelError, cfg.LevelForSubsystem("pubsub"))
	assert.NotContains(t, cfg.SubsystemLevels, "bogus")
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.True(t, cfg.AddSource)
}

// TestParseEnv_Defaults 测试默认配置
func TestParseEnv_Defaults(t *testing.T) {
	cfg := parseEnv(func(string) string { return "" })
	assert.Equal(t, slog.LevelInfo, cfg.DefaultLevel)
	assert.Equal(t, FormatText, cfg.Format)
	assert.False(t, cfg.AddSource)
}

// TestDiscard 测试丢弃 Logger
func TestDiscard(t *testing.T) {
	log := Discard()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
	log.Error("nothing")
}
