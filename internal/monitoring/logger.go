// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var current atomic.Pointer[logrus.Logger]

func init() {
	current.Store(newLogger(os.Stderr, logrus.InfoLevel))
}

func newLogger(out io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Options configure the package logger.
type Options struct {
	// Level is a logrus level name; empty means info.
	Level string
	// JSON switches to the JSON formatter.
	JSON bool
	// Output defaults to stderr.
	Output io.Writer
}

// Init replaces the package logger according to opts.
func Init(opts Options) error {
	level := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(opts.Level); err != nil {
			return err
		}
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	l := newLogger(out, level)
	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	current.Store(l)
	return nil
}

// Logger returns the package logger.
func Logger() *logrus.Logger { return current.Load() }

// SetLogger replaces the package logger. Passing nil installs a muted logger.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = newLogger(io.Discard, logrus.PanicLevel)
	}
	current.Store(l)
}

// Logf logs a formatted message at info level.
func Logf(format string, v ...interface{}) {
	current.Load().Infof(format, v...)
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(name string) *logrus.Entry {
	return current.Load().WithField("component", name)
}
