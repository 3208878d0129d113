package loki

import (
	"sort"
	"strconv"
	"strings"
)

// NumericLabelPrefix is prepended to purely numeric label names, which
// Loki rejects. Positional template placeholders ({0}, {1}) produce them.
const NumericLabelPrefix = "param"

// LabelSet is the set of labels identifying a stream.
type LabelSet map[string]string

// Equal reports whether both sets hold the same pairs.
func (l LabelSet) Equal(other LabelSet) bool {
	if len(l) != len(other) {
		return false
	}
	for k, v := range l {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Keys returns the label names in sorted order.
func (l LabelSet) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key returns a canonical string for the set: equal sets yield equal keys
// regardless of insertion order.
func (l LabelSet) Key() string {
	var b strings.Builder
	for i, k := range l.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(l[k]))
	}
	return b.String()
}

// Clone returns a copy of the set.
func (l LabelSet) Clone() LabelSet {
	out := make(LabelSet, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// SanitizeLabelName prefixes purely numeric names with NumericLabelPrefix.
func SanitizeLabelName(name string) string {
	if name == "" {
		return name
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return name
		}
	}
	return NumericLabelPrefix + name
}

// SanitizeLabelValue strips quote characters that some enrichers leave in
// rendered values.
func SanitizeLabelValue(value string) string {
	return strings.ReplaceAll(value, `"`, "")
}
