package logtypes

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// precisionFormat matches fixed-point specifiers such as F2, N0 or 0.000.
var precisionFormat = regexp.MustCompile(`^(?:[FfNn](\d{1,2})|0\.(0+)|0)$`)

// Renderings returns, in template order, the value of every token that
// carries a format specifier (`{Elapsed:F2}`), rendered with that format.
// Tokens without a matching property render as written.
func (r *LogRecord) Renderings() []string {
	var out []string
	for _, token := range placeholders(r.MessageTemplate) {
		name, format := splitPlaceholder(token)
		if format == "" {
			continue
		}
		v, ok := r.Property(name)
		if !ok {
			out = append(out, token)
			continue
		}
		out = append(out, FormatValue(v, format))
	}
	return out
}

// FormatValue renders v with a format specifier. Times take a Go layout,
// numbers take a fixed-point precision (F2, N2, 0.00), and specifiers
// starting with % go through fmt. Anything else falls back to Scalar.
func FormatValue(v any, format string) string {
	if strings.HasPrefix(format, "%") {
		return fmt.Sprintf(format, v)
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(format)
	}
	m := precisionFormat.FindStringSubmatch(format)
	if m == nil {
		return Scalar(v)
	}
	prec := len(m[2])
	if m[1] != "" {
		prec, _ = strconv.Atoi(m[1])
	}
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', prec, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', prec, 32)
	case int:
		return strconv.FormatFloat(float64(n), 'f', prec, 64)
	case int64:
		return strconv.FormatFloat(float64(n), 'f', prec, 64)
	case int32:
		return strconv.FormatFloat(float64(n), 'f', prec, 64)
	case uint:
		return strconv.FormatFloat(float64(n), 'f', prec, 64)
	case uint64:
		return strconv.FormatFloat(float64(n), 'f', prec, 64)
	default:
		return Scalar(v)
	}
}

// placeholders lists the property tokens of a template, braces included.
// Escaped braces ({{ and }}) are skipped.
func placeholders(tpl string) []string {
	var tokens []string
	for i := 0; i < len(tpl); i++ {
		if tpl[i] != '{' {
			continue
		}
		if i+1 < len(tpl) && tpl[i+1] == '{' {
			i++
			continue
		}
		end := strings.IndexByte(tpl[i:], '}')
		if end < 0 {
			break
		}
		tokens = append(tokens, tpl[i:i+end+1])
		i += end
	}
	return tokens
}

// splitPlaceholder returns the property name and format of a token.
func splitPlaceholder(token string) (name, format string) {
	inner := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
	if i := strings.IndexByte(inner, ':'); i >= 0 {
		format = inner[i+1:]
	}
	return placeholderName(token), format
}
