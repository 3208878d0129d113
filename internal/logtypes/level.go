package logtypes

import (
	"fmt"
	"strings"
)

// Level is the severity of a log record.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = [...]string{
	LevelTrace:    "trace",
	LevelDebug:    "debug",
	LevelInfo:     "info",
	LevelWarning:  "warning",
	LevelError:    "error",
	LevelCritical: "critical",
}

func (l Level) String() string {
	if l < LevelTrace || l > LevelCritical {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// GrafanaLevel returns the level name Grafana recognizes for l,
// or "unknown" for values outside the defined range.
func (l Level) GrafanaLevel() string {
	if l < LevelTrace || l > LevelCritical {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel accepts level names case-insensitively, including the
// common aliases verbose, information, warn and fatal.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "verbose":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "information":
		return LevelInfo, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical", "fatal":
		return LevelCritical, nil
	}
	return LevelTrace, fmt.Errorf("unknown level %q", s)
}
