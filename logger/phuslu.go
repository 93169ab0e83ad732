package logger

import (
	"fmt"

	phlog "github.com/oarkflow/log"
)

// PhusluLogger writes through the package-level oarkflow/log logger.
type PhusluLogger struct{}

func NewPhusluLogger() *PhusluLogger { return &PhusluLogger{} }

type field struct {
	key string
	val any
}

// pairs normalises alternating key/value arguments; a trailing key without
// a value is dropped.
func pairs(keyvals []any) []field {
	out := make([]field, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		v := keyvals[i+1]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		out = append(out, field{key: fmt.Sprint(keyvals[i]), val: v})
	}
	return out
}

func (p *PhusluLogger) Debug(msg string, keyvals ...any) {
	b := phlog.Debug()
	for _, f := range pairs(keyvals) {
		switch vv := f.val.(type) {
		case string:
			b = b.Str(f.key, vv)
		case bool:
			b = b.Bool(f.key, vv)
		case int:
			b = b.Int(f.key, vv)
		default:
			b = b.Any(f.key, vv)
		}
	}
	b.Msg(msg)
}

func (p *PhusluLogger) Info(msg string, keyvals ...any) {
	b := phlog.Info()
	for _, f := range pairs(keyvals) {
		switch vv := f.val.(type) {
		case string:
			b = b.Str(f.key, vv)
		case bool:
			b = b.Bool(f.key, vv)
		case int:
			b = b.Int(f.key, vv)
		default:
			b = b.Any(f.key, vv)
		}
	}
	b.Msg(msg)
}

func (p *PhusluLogger) Warn(msg string, keyvals ...any) {
	b := phlog.Warn()
	for _, f := range pairs(keyvals) {
		switch vv := f.val.(type) {
		case string:
			b = b.Str(f.key, vv)
		case bool:
			b = b.Bool(f.key, vv)
		case int:
			b = b.Int(f.key, vv)
		default:
			b = b.Any(f.key, vv)
		}
	}
	b.Msg(msg)
}

func (p *PhusluLogger) Error(msg string, keyvals ...any) {
	b := phlog.Error()
	for _, f := range pairs(keyvals) {
		switch vv := f.val.(type) {
		case string:
			b = b.Str(f.key, vv)
		case bool:
			b = b.Bool(f.key, vv)
		case int:
			b = b.Int(f.key, vv)
		default:
			b = b.Any(f.key, vv)
		}
	}
	b.Msg(msg)
}
