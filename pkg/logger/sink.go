package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/poltergeist/conveyor/pkg/types"
)

// TranscriptFormatter writes plain "[15:04:05] LEVEL message" lines with no
// colors or fields, for per-stage log files.
type TranscriptFormatter struct{}

// Format implements logrus.Formatter
func (TranscriptFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())
	if style, ok := levelStyles[entry.Level]; ok {
		level = style.text
	}
	line := fmt.Sprintf("[%s] %s %s\n",
		entry.Time.Format("15:04:05"),
		level,
		strings.TrimRight(entry.Message, "\n"))
	return []byte(line), nil
}

var sinkLevels = map[types.LogLevel]logrus.Level{
	types.LogLevelError: logrus.ErrorLevel,
	types.LogLevelWarn:  logrus.WarnLevel,
	types.LogLevelInfo:  logrus.InfoLevel,
	types.LogLevelDebug: logrus.DebugLevel,
}

// FileSink writes one log file per stage under {root}/{pipeline}/logs and
// mirrors every line to a console Logger.
type FileSink struct {
	root    string
	console Logger

	mu         sync.Mutex
	file       *os.File
	transcript *logrus.Logger
	stage      string
}

// NewFileSink creates a sink rooted at the workspace directory
func NewFileSink(root string, console Logger) *FileSink {
	if console == nil {
		console = Discard()
	}
	return &FileSink{root: root, console: console}
}

// LogPath returns the log file for a stage
func LogPath(root, pipeline, stage string) string {
	return filepath.Join(root, pipeline, "logs", stage+".log")
}

func newTranscript(out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(TranscriptFormatter{})
	log.SetLevel(logrus.DebugLevel)
	return log
}

// StartLogging switches output to the given stage's log file
func (s *FileSink) StartLogging(pipeline, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeLocked(); err != nil {
		s.console.Warn("Failed to close previous stage log", WithError(err))
	}

	s.stage = stage
	path := LogPath(s.root, pipeline, stage)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		s.console.Warn("Failed to create log directory", WithError(err))
		return
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		s.console.Warn("Failed to open stage log", WithField("path", path), WithError(err))
		return
	}
	fmt.Fprintf(file, "\n=== %s started at %s ===\n", stage, time.Now().Format("2006-01-02 15:04:05"))
	s.file = file
	s.transcript = newTranscript(file)
}

// Log writes a line to the current stage log and the console
func (s *FileSink) Log(level types.LogLevel, message string) {
	lvl, ok := sinkLevels[level]
	if !ok {
		lvl = logrus.InfoLevel
	}

	s.mu.Lock()
	stage := s.stage
	if s.transcript != nil {
		s.transcript.Log(lvl, message)
	}
	s.mu.Unlock()

	console := s.console
	if stage != "" {
		console = console.WithStage(stage)
	}
	switch lvl {
	case logrus.ErrorLevel:
		console.Error(message)
	case logrus.WarnLevel:
		console.Warn(message)
	case logrus.DebugLevel:
		console.Debug(message)
	default:
		console.Info(message)
	}
}

// SaveLogs closes the current stage log
func (s *FileSink) SaveLogs() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *FileSink) closeLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.transcript = nil
	if err != nil {
		return fmt.Errorf("failed to close stage log: %w", err)
	}
	return nil
}
