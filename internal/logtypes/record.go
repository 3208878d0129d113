package logtypes

import (
	"fmt"
	"strings"
	"time"
)

// Property is a named value attached to a record. Order is preserved.
type Property struct {
	Name  string
	Value any
}

// Exception describes an error chain captured with a record.
// Aggregate is used instead of Inner when several errors were combined.
type Exception struct {
	Type       string
	Message    string
	StackTrace string
	Inner      *Exception
	Aggregate  []*Exception
}

// LogRecord is a structured log event produced by the logging front-end.
// Records are treated as immutable once emitted.
type LogRecord struct {
	Timestamp       time.Time
	Level           Level
	MessageTemplate string
	RenderedMessage string
	Properties      []Property
	Exception       *Exception
}

// QueuedEvent is a record waiting in the sink's queue together with the
// time it was accepted.
type QueuedEvent struct {
	Record            LogRecord
	InternalTimestamp time.Time
}

// Property returns the value of the named property.
func (r *LogRecord) Property(name string) (any, bool) {
	for _, p := range r.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// WithoutProperties returns a shallow copy of r with the named properties
// removed. r itself is left untouched.
func (r LogRecord) WithoutProperties(names map[string]struct{}) LogRecord {
	if len(names) == 0 {
		return r
	}
	props := make([]Property, 0, len(r.Properties))
	for _, p := range r.Properties {
		if _, drop := names[p.Name]; drop {
			continue
		}
		props = append(props, p)
	}
	r.Properties = props
	return r
}

// Message returns the rendered message, rendering the template from the
// record's properties when the producer did not supply one.
func (r *LogRecord) Message() string {
	if r.RenderedMessage != "" {
		return r.RenderedMessage
	}
	return r.render()
}

func (r *LogRecord) render() string {
	tpl := r.MessageTemplate
	if !strings.Contains(tpl, "{") {
		return tpl
	}

	var b strings.Builder
	for i := 0; i < len(tpl); i++ {
		c := tpl[i]
		if c == '{' && i+1 < len(tpl) && tpl[i+1] == '{' {
			b.WriteByte('{')
			i++
			continue
		}
		if c == '}' && i+1 < len(tpl) && tpl[i+1] == '}' {
			b.WriteByte('}')
			i++
			continue
		}
		if c != '{' {
			b.WriteByte(c)
			continue
		}
		end := strings.IndexByte(tpl[i:], '}')
		if end < 0 {
			b.WriteString(tpl[i:])
			break
		}
		token := tpl[i : i+end+1]
		if v, ok := r.Property(placeholderName(token)); ok {
			b.WriteString(Scalar(v))
		} else {
			b.WriteString(token)
		}
		i += end
	}
	return b.String()
}

// placeholderName strips braces, capture hints (@ and $) and any
// alignment or format suffix from a template token.
func placeholderName(token string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
	name = strings.TrimLeft(name, "@$")
	if i := strings.IndexAny(name, ",:"); i >= 0 {
		name = name[:i]
	}
	return name
}

// Scalar flattens a property value into a single-line string.
func Scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// String renders the exception chain the way a stack dump reads:
// "Type: Message", the stack trace, then nested errors indented by
// "---> ".
func (e *Exception) String() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	e.write(&b, 0)
	return b.String()
}

func (e *Exception) write(b *strings.Builder, depth int) {
	if depth > 0 {
		b.WriteString(" ---> ")
	}
	b.WriteString(e.Type)
	if e.Message != "" {
		if e.Type != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Message)
	}
	for _, inner := range e.children() {
		inner.write(b, depth+1)
	}
	if e.StackTrace != "" {
		b.WriteByte('\n')
		b.WriteString(e.StackTrace)
	}
}

func (e *Exception) children() []*Exception {
	if len(e.Aggregate) > 0 {
		return e.Aggregate
	}
	if e.Inner != nil {
		return []*Exception{e.Inner}
	}
	return nil
}
