package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log *zap.Logger
	// helper 供包级便捷方法使用，调用位置跳过一层
	helper *zap.Logger
)

// ParseLevel 解析日志级别，未知级别按 info 处理
func ParseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// New 按级别和输出目标构建日志实例: stdout, stderr 或文件路径
func New(level string, output string) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	if output == "" {
		output = "stdout"
	}
	if output != "stdout" && output != "stderr" {
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	writer, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output %s: %w", output, err)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, ParseLevel(level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Init 初始化全局日志，fields 会附加到每一条日志
func Init(level string, output string, fields ...zap.Field) error {
	l, err := New(level, output)
	if err != nil {
		return err
	}
	Log = l.With(fields...)
	helper = Log.WithOptions(zap.AddCallerSkip(1))
	return nil
}

// GetLogger 获取日志实例
func GetLogger() *zap.Logger {
	if Log == nil {
		// 如果未初始化，使用默认配置
		_ = Init("info", "stdout")
	}
	return Log
}

func helperLogger() *zap.Logger {
	if helper == nil {
		return GetLogger().WithOptions(zap.AddCallerSkip(1))
	}
	return helper
}

// Named 返回带组件名的子日志
func Named(component string) *zap.Logger {
	return GetLogger().Named(component)
}

// Sync 刷新缓冲区
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// 便捷方法
func Debug(msg string, fields ...zap.Field) {
	helperLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	helperLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	helperLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	helperLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	helperLogger().Fatal(msg, fields...)
}
