package logging

import (
	"github.com/rollbar/rollbar-go"
	"go.uber.org/zap/zapcore"
)

// reporter is the subset of *rollbar.Client the core needs
type reporter interface {
	ErrorWithExtras(level string, err error, extras map[string]interface{})
	MessageWithExtras(level string, msg string, extras map[string]interface{})
	Wait()
}

// rollbarCore forwards log entries to Rollbar. Zap error fields are sent
// as the item's error so stack traces survive; other fields become extras.
type rollbarCore struct {
	zapcore.LevelEnabler
	reporter reporter
	fields   []zapcore.Field
}

var _ zapcore.Core = (*rollbarCore)(nil)

func newRollbarCore(enab zapcore.LevelEnabler, r reporter) *rollbarCore {
	return &rollbarCore{LevelEnabler: enab, reporter: r}
}

func (c *rollbarCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &rollbarCore{LevelEnabler: c.LevelEnabler, reporter: c.reporter}
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *rollbarCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *rollbarCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	var cause error

	for _, group := range [][]zapcore.Field{c.fields, fields} {
		for _, f := range group {
			if f.Type == zapcore.ErrorType && cause == nil {
				if err, ok := f.Interface.(error); ok {
					cause = err
				}
			}
			f.AddTo(enc)
		}
	}

	extras := enc.Fields
	if ent.LoggerName != "" {
		extras["logger"] = ent.LoggerName
	}
	if ent.Caller.Defined {
		extras["caller"] = ent.Caller.TrimmedPath()
	}

	level := rollbarLevel(ent.Level)
	if cause != nil {
		extras["message"] = ent.Message
		c.reporter.ErrorWithExtras(level, cause, extras)
		return nil
	}
	c.reporter.MessageWithExtras(level, ent.Message, extras)
	return nil
}

func (c *rollbarCore) Sync() error {
	c.reporter.Wait()
	return nil
}

func rollbarLevel(l zapcore.Level) string {
	switch {
	case l >= zapcore.DPanicLevel:
		return rollbar.CRIT
	case l == zapcore.ErrorLevel:
		return rollbar.ERR
	case l == zapcore.WarnLevel:
		return rollbar.WARN
	case l == zapcore.InfoLevel:
		return rollbar.INFO
	default:
		return rollbar.DEBUG
	}
}
