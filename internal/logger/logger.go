package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar *zap.SugaredLogger

func init() {
	rebuild(false)
}

func rebuild(debug bool) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// 构建失败时回退 no-op，进程仍可工作
		base = zap.NewNop()
	}
	sugar = base.Sugar()
}

// SetDebug 设置是否开启调试模式
func SetDebug(debug bool) {
	rebuild(debug)
}

// Info 打印信息日志
func Info(format string, v ...interface{}) {
	sugar.Infof(format, v...)
}

// Debug 打印调试日志
func Debug(format string, v ...interface{}) {
	sugar.Debugf(format, v...)
}

// Error 打印错误日志
func Error(format string, v ...interface{}) {
	sugar.Errorf(format, v...)
}

// Fatal 打印错误日志并退出
func Fatal(format string, v ...interface{}) {
	sugar.Fatalf(format, v...)
}

// Sync 退出前刷新缓冲日志
func Sync() {
	_ = sugar.Sync()
}
