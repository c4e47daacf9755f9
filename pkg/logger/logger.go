package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger zerolog.Logger
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	extra  []io.Writer
)

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	rebuild()
}

// rebuild recreates the package logger from the current sinks. Callers hold mu.
func rebuild() {
	writers := []io.Writer{
		SpecificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out:        stdout,
				TimeFormat: time.RFC3339,
			},
			Levels: []zerolog.Level{
				zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel,
			},
		},
		SpecificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out: stderr,
			},
			Levels: []zerolog.Level{
				zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel,
			},
		},
	}
	writers = append(writers, extra...)
	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

// SetOutput redirects console output. Used by tests and by the CLI when
// --quiet is set.
func SetOutput(out, errOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	stdout, stderr = out, errOut
	rebuild()
}

// SetVerbose toggles debug logging.
func SetVerbose(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// AddFileSink appends JSON log lines to path in addition to the console.
func AddFileSink(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	extra = append(extra, f)
	rebuild()
	return f, nil
}

// With returns a child logger tagged with a component name.
func With(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With().Str("component", component).Logger()
}

func get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

func Info(msg string) {
	get().Info().Msg(msg)
}

func Infof(format string, args ...interface{}) {
	get().Info().Msgf(format, args...)
}

func Warn(msg string) {
	get().Warn().Msg(msg)
}

func Warnf(format string, args ...interface{}) {
	get().Warn().Msgf(format, args...)
}

func Error(msg string) {
	get().Error().Msg(msg)
}

func Errorf(format string, args ...interface{}) {
	get().Error().Msgf(format, args...)
}

func Debug(msg string) {
	get().Debug().Msg(msg)
}

func Debugf(format string, args ...interface{}) {
	get().Debug().Msgf(format, args...)
}

// multilevel writer from https://stackoverflow.com/questions/76858037/how-to-use-zerolog-to-filter-info-logs-to-stdout-and-error-logs-to-stderr
type SpecificLevelWriter struct {
	io.Writer
	Levels []zerolog.Level
}

func (w SpecificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.Levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}
