// Package logger 提供 overlay 的子系统日志
//
// 基于标准库 log/slog：
//   - 每个子系统一个缓存的 *slog.Logger，级别可运行时调整
//   - 环境变量配置（OVERLAY_LOG_LEVEL, OVERLAY_LOG_FORMAT, OVERLAY_LOG_ADD_SOURCE）
//   - 输出目标可在 Logger 创建后切换
//
// 使用示例:
//
//	var log = logger.Logger("rendezvous")
//
//	log.Info("注册成功", "peer", peerID, "ns", ns)
//
// 环境变量配置:
//
//	# 默认 info，rendezvous 子系统 debug
//	OVERLAY_LOG_LEVEL=rendezvous=debug,info
//
//	# JSON 输出
//	OVERLAY_LOG_FORMAT=json
package logger

import (
	"io"
	"log/slog"
	"sync"
)

var (
	// loggers 子系统 -> *slog.Logger
	loggers sync.Map

	// levels 子系统 -> *slog.LevelVar，派生 Logger 共享同一级别
	levels sync.Map
)

// Logger 获取指定子系统的 Logger
//
// 同一子系统多次调用返回同一实例。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	lv := levelVar(subsystem, cfg.LevelForSubsystem(subsystem))

	l := slog.New(newHandler(subsystem, lv, cfg))
	actual, _ := loggers.LoadOrStore(subsystem, l)
	return actual.(*slog.Logger)
}

func levelVar(subsystem string, initial slog.Level) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(initial)
	actual, _ := levels.LoadOrStore(subsystem, lv)
	return actual.(*slog.LevelVar)
}

// SetLevel 动态设置子系统的日志级别
//
// 子系统尚未创建 Logger 时，级别会在创建时生效。
func SetLevel(subsystem string, level slog.Level) {
	levelVar(subsystem, level).Set(level)
}

// SetGlobalLevel 设置所有已知子系统的日志级别
func SetGlobalLevel(level slog.Level) {
	levels.Range(func(_, v any) bool {
		v.(*slog.LevelVar).Set(level)
		return true
	})
}

// Discard 返回丢弃所有日志的 Logger（测试用）
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// SetOutput 设置全局日志输出目标
//
// 已创建的 Logger 同样会写入新目标。
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}
