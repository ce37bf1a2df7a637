// Package logx 提供带级别的进程级日志器。
// 结构沿用常规四级（Debug/Info/Warn/Error），支持同时输出到控制台和文件。
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level 表示日志级别
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[string]Level{
	"debug": DebugLevel,
	"info":  InfoLevel,
	"warn":  WarnLevel,
	"error": ErrorLevel,
}

var (
	mu       sync.Mutex
	minLevel = InfoLevel

	debugLogger = log.New(os.Stdout, "[DEBUG] ", log.LstdFlags)
	infoLogger  = log.New(os.Stdout, "[INFO] ", log.LstdFlags)
	warnLogger  = log.New(os.Stdout, "[WARN] ", log.LstdFlags)
	errorLogger = log.New(os.Stderr, "[ERROR] ", log.LstdFlags)

	logFile *os.File
)

// Options 初始化参数
type Options struct {
	Level         string
	File          string
	EnableConsole bool
}

// Init 按配置重建各级别日志器。重复调用是安全的。
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if lvl, ok := levelNames[strings.ToLower(opts.Level)]; ok {
		minLevel = lvl
	}

	var writers []io.Writer
	if opts.EnableConsole {
		writers = append(writers, os.Stdout)
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	out := io.MultiWriter(writers...)
	debugLogger = log.New(out, "[DEBUG] ", log.LstdFlags)
	infoLogger = log.New(out, "[INFO] ", log.LstdFlags)
	warnLogger = log.New(out, "[WARN] ", log.LstdFlags)
	errorLogger = log.New(out, "[ERROR] ", log.LstdFlags)
	return nil
}

func Debugf(format string, args ...any) {
	if minLevel <= DebugLevel {
		debugLogger.Printf(format, args...)
	}
}

func Infof(format string, args ...any) {
	if minLevel <= InfoLevel {
		infoLogger.Printf(format, args...)
	}
}

func Warnf(format string, args ...any) {
	if minLevel <= WarnLevel {
		warnLogger.Printf(format, args...)
	}
}

func Errorf(format string, args ...any) {
	if minLevel <= ErrorLevel {
		errorLogger.Printf(format, args...)
	}
}
