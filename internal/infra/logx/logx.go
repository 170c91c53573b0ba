// Package logx 负责日志上下文的构造。
//
// 约束：日志器的生命周期（创建、级别、去向）由顶层调用方控制，
// 组件只接收显式传入的 zerolog.Logger，不触碰任何进程级全局状态。
package logx

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// New 构造注入用的日志器。
//
// - tty=true：人类可读的 console 输出
// - tty=false：行式 JSON（方便下游采集）
// - level 不认识时回落到 info（配置错别字不应让整次运行失败）
func New(w io.Writer, level string, tty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if tty {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Nop 返回丢弃一切输出的日志器（测试与 dry 场景用）。
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
