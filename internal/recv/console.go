package recv

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// ConsolePrinter renders received entries as colored lines, one per entry.
type ConsolePrinter struct {
	mu sync.Mutex
	w  io.Writer

	tsStyle     lipgloss.Style
	tenantStyle lipgloss.Style
	labelStyle  lipgloss.Style
	metaStyle   lipgloss.Style
	lineStyle   lipgloss.Style
	levels      map[string]lipgloss.Style
	unknown     lipgloss.Style
	header      lipgloss.Style
}

// NewConsolePrinter creates a printer writing to w. Colors are enabled
// only when w is a terminal that supports them.
func NewConsolePrinter(w io.Writer) *ConsolePrinter {
	r := lipgloss.NewRenderer(w)
	level := func(color string) lipgloss.Style {
		return r.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
	}
	return &ConsolePrinter{
		w:           w,
		tsStyle:     r.NewStyle().Faint(true),
		tenantStyle: r.NewStyle().Foreground(lipgloss.Color("63")),
		labelStyle:  r.NewStyle().Faint(true),
		metaStyle:   r.NewStyle().Foreground(lipgloss.Color("244")),
		lineStyle:   r.NewStyle(),
		levels: map[string]lipgloss.Style{
			"trace":    level("245"),
			"debug":    level("39"),
			"info":     level("34"),
			"warning":  level("214"),
			"warn":     level("214"),
			"error":    level("196"),
			"critical": level("201"),
			"fatal":    level("201"),
		},
		unknown: level("250"),
		header:  r.NewStyle().Bold(true),
	}
}

// Handle prints entries.
func (p *ConsolePrinter) Handle(entries []Entry) {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(p.Render(e))
		b.WriteByte('\n')
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, b.String())
}

// Render formats a single entry without a trailing newline:
// time, level, optional tenant, remaining labels, the line and metadata.
func (p *ConsolePrinter) Render(e Entry) string {
	lvl := entryLevel(e)
	style, ok := p.levels[lvl]
	if !ok {
		style = p.unknown
	}

	parts := []string{
		p.tsStyle.Render(e.Timestamp.UTC().Format("15:04:05.000")),
		style.Render(fmt.Sprintf("%-8s", strings.ToUpper(lvl))),
	}
	if e.Tenant != "" {
		parts = append(parts, p.tenantStyle.Render("["+e.Tenant+"]"))
	}
	if labels := formatPairs(e.Labels, "level"); labels != "" {
		parts = append(parts, p.labelStyle.Render("{"+labels+"}"))
	}
	parts = append(parts, p.lineStyle.Render(e.Line))
	if meta := formatPairs(e.Metadata, ""); meta != "" {
		parts = append(parts, p.metaStyle.Render(meta))
	}
	return strings.Join(parts, " ")
}

// PrintSummary writes a short report of what the receiver saw.
func (p *ConsolePrinter) PrintSummary(snap Snapshot) {
	var b strings.Builder
	b.WriteString(p.header.Render(fmt.Sprintf("received %s lines in %s pushes", formatCount(snap.LinesReceived), formatCount(snap.Pushes))))
	b.WriteByte('\n')
	writeTop := func(title string, counts []Count) {
		if len(counts) == 0 {
			return
		}
		b.WriteString(p.header.Render(title))
		b.WriteByte('\n')
		for _, c := range counts[:min(len(counts), 5)] {
			fmt.Fprintf(&b, " %-20s %s\n", c.Name, formatCount(c.Count))
		}
	}
	writeTop("top talkers", snap.Talkers)
	writeTop("tenants", snap.Tenants)

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, b.String())
}

func entryLevel(e Entry) string {
	if l := e.Labels["level"]; l != "" {
		return strings.ToLower(l)
	}
	if l := e.Metadata["level"]; l != "" {
		return strings.ToLower(l)
	}
	return "unknown"
}

// formatPairs renders k=v pairs sorted by key, skipping skip.
func formatPairs(m map[string]string, skip string) string {
	keys := slices.Sorted(maps.Keys(m))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == skip {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%q", k, m[k]))
	}
	return strings.Join(parts, ", ")
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
