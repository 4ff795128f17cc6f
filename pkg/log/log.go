package log

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

func InitLogs() *logrus.Logger {
	log := logrus.New()

	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return log
}

// PrefixLogger is a logrus-backed logger that prepends a component prefix to
// every entry. An empty prefix logs unadorned.
type PrefixLogger struct {
	*logrus.Logger
	prefix string
}

func NewPrefixLogger(prefix string) *PrefixLogger {
	return &PrefixLogger{
		Logger: InitLogs(),
		prefix: prefix,
	}
}

// Prefix returns the component prefix.
func (p *PrefixLogger) Prefix() string {
	return p.prefix
}

// Level sets the log level by name; unknown names fall back to info.
func (p *PrefixLogger) Level(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
		p.Logger.Warnf("Unknown log level %q, defaulting to info", level)
	}
	p.Logger.SetLevel(parsed)
}

func (p *PrefixLogger) prefixed(args ...interface{}) string {
	msg := fmt.Sprint(args...)
	if p.prefix == "" {
		return msg
	}
	return fmt.Sprintf("[%s] %s", p.prefix, msg)
}

func (p *PrefixLogger) Tracef(format string, args ...interface{}) {
	p.Logger.Trace(p.prefixed(fmt.Sprintf(format, args...)))
}

func (p *PrefixLogger) Debugf(format string, args ...interface{}) {
	p.Logger.Debug(p.prefixed(fmt.Sprintf(format, args...)))
}

func (p *PrefixLogger) Infof(format string, args ...interface{}) {
	p.Logger.Info(p.prefixed(fmt.Sprintf(format, args...)))
}

func (p *PrefixLogger) Warnf(format string, args ...interface{}) {
	p.Logger.Warn(p.prefixed(fmt.Sprintf(format, args...)))
}

func (p *PrefixLogger) Errorf(format string, args ...interface{}) {
	p.Logger.Error(p.prefixed(fmt.Sprintf(format, args...)))
}

func (p *PrefixLogger) Trace(args ...interface{}) {
	p.Logger.Trace(p.prefixed(args...))
}

func (p *PrefixLogger) Debug(args ...interface{}) {
	p.Logger.Debug(p.prefixed(args...))
}

func (p *PrefixLogger) Info(args ...interface{}) {
	p.Logger.Info(p.prefixed(args...))
}

func (p *PrefixLogger) Warn(args ...interface{}) {
	p.Logger.Warn(p.prefixed(args...))
}

func (p *PrefixLogger) Error(args ...interface{}) {
	p.Logger.Error(p.prefixed(args...))
}
