// Package logger 提供基于 zap 的全局日志
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" env:"LP_LOG_LEVEL"`             // debug, info, warn, error
	Format     string `yaml:"format" env:"LP_LOG_FORMAT"`           // json, console
	Output     string `yaml:"output" env:"LP_LOG_OUTPUT"`           // stdout, stderr, file, both
	FilePath   string `yaml:"file_path" env:"LP_LOG_FILE_PATH"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" env:"LP_LOG_MAX_SIZE"`       // MB
	MaxBackups int    `yaml:"max_backups" env:"LP_LOG_MAX_BACKUPS"` // 保留文件数
	MaxAge     int    `yaml:"max_age" env:"LP_LOG_MAX_AGE"`         // days
}

// DefaultConfig 默认日志配置
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
	}
}

// Init 初始化全局日志，可重复调用，后一次覆盖前一次
func Init(cfg *Config) {
	l := New(cfg)
	mu.Lock()
	old := log
	log = l
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

// New 创建日志实例
func New(cfg *Config) *zap.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	level := ParseLevel(cfg.Level)

	var cores []zapcore.Core
	switch cfg.Output {
	case "stdout":
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	case "file", "both":
		if cfg.FilePath != "" {
			writer := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
			}
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(writer), level))
		}
		if cfg.Output == "both" || cfg.FilePath == "" {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
		}
	default:
		// 控制台摘要写 stdout，日志默认走 stderr
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}

// ParseLevel 解析日志级别，未知级别按 info 处理
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// L 获取日志实例
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(nil)
	return L()
}

// Named 获取带名称的子日志，不带调用者偏移
func Named(name string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// Debug 调试日志
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info 信息日志
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn 警告日志
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error 错误日志
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Sync 同步日志
func Sync() {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
