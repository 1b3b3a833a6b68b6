package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"edgecloud/internal/config"
)

// Logger provides leveled logging (info/warning/error) to files and stdout/stderr.
type Logger struct {
	sugar  *zap.SugaredLogger
	logDir string
	files  []*os.File
	mu     sync.Mutex
}

// NewLogger creates a Logger writing one file per level into the configured
// log directory, plus the console.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, err
	}

	l := &Logger{logDir: cfg.LogDirectory}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	fileEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	consoleConfig := encoderConfig
	consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleConfig)

	levels := []struct {
		file   string
		level  zapcore.Level
		stream zapcore.WriteSyncer
	}{
		{"info.log", zapcore.InfoLevel, zapcore.Lock(os.Stdout)},
		{"warning.log", zapcore.WarnLevel, zapcore.Lock(os.Stdout)},
		{"error.log", zapcore.ErrorLevel, zapcore.Lock(os.Stderr)},
	}

	cores := make([]zapcore.Core, 0, len(levels)*2)
	for _, lv := range levels {
		file, err := l.openLogFile(filepath.Join(l.logDir, lv.file))
		if err != nil {
			l.closeFiles()
			return nil, err
		}
		enabler := exactLevel(lv.level)
		cores = append(cores,
			zapcore.NewCore(fileEncoder, zapcore.AddSync(file), enabler),
			zapcore.NewCore(consoleEncoder, lv.stream, enabler),
		)
	}

	l.sugar = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return l, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// NewDevelopment returns a console-only Logger.
func NewDevelopment() *Logger {
	z, err := zap.NewDevelopment(zap.AddCallerSkip(1))
	if err != nil {
		return NewNop()
	}
	return &Logger{sugar: z.Sugar()}
}

// exactLevel routes each level to its own file; error.log also gets anything above.
func exactLevel(level zapcore.Level) zap.LevelEnablerFunc {
	return func(l zapcore.Level) bool {
		if level == zapcore.ErrorLevel {
			return l >= level
		}
		return l == level
	}
}

// openLogFile opens or creates a log file for appending.
func (l *Logger) openLogFile(filename string) (*os.File, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	l.files = append(l.files, file)
	return file, nil
}

// Named returns a child logger that prefixes entries with the component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{sugar: l.sugar.Named(name), logDir: l.logDir}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...), logDir: l.logDir}
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	filePath := filepath.Join(l.logDir, fileName)
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		l.Error("Error opening file: %v", err)
		return
	}
	defer file.Close()

	l.Info("File %s has been cleared.", fileName)
}

// Sync flushes buffered entries and closes the log files.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
	l.closeFiles()
}

func (l *Logger) closeFiles() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.files {
		f.Close()
	}
	l.files = nil
}
