package loki

import (
	"bytes"
	"encoding/json"
	"io"
	"slices"

	"github.com/ppiankov/lokisink/internal/logtypes"
)

// TextFormatter renders the body of a single log line. suppressed lists
// property names already carried as stream labels; formatters may omit
// them from the body.
type TextFormatter interface {
	Format(rec *logtypes.LogRecord, w io.Writer, suppressed []string) error
}

// RenamingStrategy picks a new name for a property that collides with a
// field the formatter reserves for itself.
type RenamingStrategy interface {
	Rename(name string) string
}

// RenamingFunc adapts a function to RenamingStrategy.
type RenamingFunc func(string) string

// Rename calls f(name).
func (f RenamingFunc) Rename(name string) string { return f(name) }

// DefaultRenaming prefixes the colliding name with an underscore.
var DefaultRenaming RenamingStrategy = RenamingFunc(func(name string) string { return "_" + name })

// reservedFields are written by JSONTextFormatter before any property.
var reservedFields = []string{"Message", "MessageTemplate", "Renderings", "level", "Exception"}

// maxRenameDepth bounds chains of renames (a, _a, __a, ...).
const maxRenameDepth = 16

// maxExceptionDepth is the last nesting level written as an object;
// deeper errors are rendered as a single string.
const maxExceptionDepth = 3

// JSONTextFormatter renders records as one JSON object per line, suitable
// for Loki's `| json` parser. The zero value is ready to use.
type JSONTextFormatter struct {
	// Renaming resolves collisions with reserved fields. Nil means
	// DefaultRenaming.
	Renaming RenamingStrategy
}

// Format writes rec as JSON.
func (f JSONTextFormatter) Format(rec *logtypes.LogRecord, w io.Writer, suppressed []string) error {
	if rec == nil || w == nil {
		return ErrNilArgument
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteString(`{"Message":`)
	writeString(&buf, enc, rec.Message())
	buf.WriteString(`,"MessageTemplate":`)
	writeString(&buf, enc, rec.MessageTemplate)
	if rs := rec.Renderings(); len(rs) > 0 {
		buf.WriteString(`,"Renderings":[`)
		for i, r := range rs {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(&buf, enc, r)
		}
		buf.WriteByte(']')
	}
	buf.WriteString(`,"level":`)
	writeString(&buf, enc, rec.Level.GrafanaLevel())

	if rec.Exception != nil {
		buf.WriteString(`,"Exception":`)
		writeException(&buf, enc, rec.Exception, 1)
	}

	renaming := f.Renaming
	if renaming == nil {
		renaming = DefaultRenaming
	}
	for _, p := range renameReserved(rec.Properties, renaming) {
		if p.suppressible && slices.Contains(suppressed, p.Name) {
			continue
		}
		buf.WriteByte(',')
		writeString(&buf, enc, p.Name)
		buf.WriteByte(':')
		writeValue(&buf, enc, p.Value)
	}
	buf.WriteByte('}')

	_, err := w.Write(buf.Bytes())
	return err
}

// PlainTextFormatter writes the rendered message followed by the
// exception, if any, on the next line.
type PlainTextFormatter struct{}

// Format writes rec as plain text.
func (PlainTextFormatter) Format(rec *logtypes.LogRecord, w io.Writer, _ []string) error {
	if rec == nil || w == nil {
		return ErrNilArgument
	}
	if _, err := io.WriteString(w, rec.Message()); err != nil {
		return err
	}
	if rec.Exception != nil {
		if _, err := io.WriteString(w, "\n"+rec.Exception.String()); err != nil {
			return err
		}
	}
	return nil
}

type namedProperty struct {
	logtypes.Property
	suppressible bool // false once renamed away from a reserved field
}

// renameReserved returns the properties with reserved names moved out of
// the way. If the new name is taken, the occupant is renamed first.
func renameReserved(props []logtypes.Property, strategy RenamingStrategy) []namedProperty {
	out := make([]namedProperty, len(props))
	for i, p := range props {
		out[i] = namedProperty{Property: p, suppressible: true}
	}
	for _, name := range reservedFields {
		renameIfPresent(out, name, strategy, 0)
	}
	return out
}

func renameIfPresent(props []namedProperty, name string, strategy RenamingStrategy, depth int) {
	if depth >= maxRenameDepth {
		return
	}
	i := slices.IndexFunc(props, func(p namedProperty) bool { return p.Name == name })
	if i < 0 {
		return
	}
	newName := strategy.Rename(name)
	if newName == name {
		return
	}
	renameIfPresent(props, newName, strategy, depth+1)
	props[i].Name = newName
	props[i].suppressible = false
}

func writeString(buf *bytes.Buffer, enc *json.Encoder, s string) {
	_ = enc.Encode(s)
	trimNewline(buf)
}

func writeValue(buf *bytes.Buffer, enc *json.Encoder, v any) {
	mark := buf.Len()
	if err := enc.Encode(v); err != nil {
		buf.Truncate(mark)
		writeString(buf, enc, logtypes.Scalar(v))
		return
	}
	trimNewline(buf)
}

// trimNewline drops the newline json.Encoder appends after each value.
func trimNewline(buf *bytes.Buffer) {
	if n := buf.Len(); n > 0 && buf.Bytes()[n-1] == '\n' {
		buf.Truncate(n - 1)
	}
}

func writeException(buf *bytes.Buffer, enc *json.Encoder, ex *logtypes.Exception, depth int) {
	if ex == nil {
		buf.WriteString("null")
		return
	}
	if depth > maxExceptionDepth {
		writeString(buf, enc, ex.String())
		return
	}

	buf.WriteString(`{"Type":`)
	writeString(buf, enc, ex.Type)
	if ex.Message != "" {
		buf.WriteString(`,"Message":`)
		writeString(buf, enc, ex.Message)
	}
	if ex.StackTrace != "" {
		buf.WriteString(`,"StackTrace":`)
		writeString(buf, enc, ex.StackTrace)
	}

	switch {
	case len(ex.Aggregate) > 0:
		buf.WriteString(`,"InnerExceptions":[`)
		for i, inner := range ex.Aggregate {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeException(buf, enc, inner, depth+1)
		}
		buf.WriteByte(']')
	case ex.Inner != nil:
		buf.WriteString(`,"InnerException":`)
		writeException(buf, enc, ex.Inner, depth+1)
	}
	buf.WriteByte('}')
}
