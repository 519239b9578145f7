package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - настройка структурированного логирования (zap)
//
// Назначение:
// Единая инициализация логгера для всех компонентов. Компоненты получают
// *Logger при конструировании; глобальный логгер существует только как
// fallback для мест где внедрение неудобно (main, тесты).
//
// Уровни: debug, info, warn, error, fatal.
// Форматы: json (production), text (console encoder).

// LogConfig - конфигурация логирования
type LogConfig struct {
	// Level - минимальный уровень: debug, info, warn, error, fatal
	Level string
	// Format - формат вывода: json или text
	Format string
	// Output - путь к файлу; пустой = stderr
	Output string
	// Development - режим разработки (цветные уровни)
	Development bool
}

// Logger оборачивает zap.Logger вместе с sugared вариантом
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// Sugar возвращает sugared логгер для printf-style вызовов
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Named возвращает логгер с именем компонента
func (l *Logger) Named(name string) *Logger {
	named := l.Logger.Named(name)
	return &Logger{Logger: named, sugar: named.Sugar()}
}

var (
	globalLogger *Logger
	globalMu     sync.Mutex
)

// parseLevel конвертирует строковый уровень в zapcore.Level
// Неизвестные значения трактуются как info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger создаёт и настраивает логгер
//
// Никогда не возвращает nil и не паникует: при недоступном файле
// вывода происходит fallback на stderr.
func InitLogger(cfg LogConfig) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		if cfg.Development {
			encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
		// При ошибке открытия остаёмся на stderr
	}

	core := zapcore.NewCore(encoder, sink, parseLevel(cfg.Level))

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// InitGlobalLogger инициализирует глобальный логгер и возвращает его
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая дефолтный при необходимости
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}
