package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 封装了 zerolog.Logger 并包含同步机制
type Logger struct {
	logger  zerolog.Logger
	console io.Writer
	mutex   sync.RWMutex
}

// newConsoleWriter 用于控制台输出
func newConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger 初始化日志系统
func NewLogger(debug bool) *Logger {
	return newLogger(debug, newConsoleWriter(os.Stdout))
}

func newLogger(debug bool, console io.Writer) *Logger {
	l := &Logger{console: console}

	// 设置全局日志级别
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	l.setWriter(zerolog.MultiLevelWriter(console))
	return l
}

// New 按配置创建日志，file 非空时同时写入轮转文件
func New(debug bool, file string) *Logger {
	l := NewLogger(debug)
	if file != "" {
		l.SetLogOutput(file)
	}
	return l
}

func (l *Logger) setWriter(w io.Writer) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.logger = zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()

	// 设置全局 logger
	log.Logger = l.logger
}

// GetLogger 返回带有上下文的日志记录器
func (l *Logger) GetLogger(component string) zerolog.Logger {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.logger.With().
		Str("component", component).
		Logger()
}

// SetLogOutput 设置额外的日志输出（如文件）
func (l *Logger) SetLogOutput(logFilePath string) {
	// 使用 lumberjack 进行日志轮转
	fileWriter := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28,   // days
		Compress:   true, // 压缩旧文件
	}

	l.setWriter(zerolog.MultiLevelWriter(l.console, fileWriter))
}
