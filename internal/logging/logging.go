// Package logging builds prefixed loggers on top of Echo's gommon logger.
package logging

import (
	"strings"
	"sync/atomic"

	"github.com/labstack/gommon/log"
)

var level atomic.Uint32

func init() {
	level.Store(uint32(log.INFO))
}

// SetLevel sets the level applied to loggers created afterwards. Unknown
// names leave the level unchanged.
func SetLevel(name string) {
	if lvl, ok := ParseLevel(name); ok {
		level.Store(uint32(lvl))
		log.SetLevel(lvl)
	}
}

// ParseLevel maps a config level name to a gommon level.
func ParseLevel(name string) (log.Lvl, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return log.DEBUG, true
	case "info", "":
		return log.INFO, true
	case "warn", "warning":
		return log.WARN, true
	case "error":
		return log.ERROR, true
	case "off":
		return log.OFF, true
	}
	return 0, false
}

// New returns a logger with the given prefix at the current level.
func New(prefix string) *log.Logger {
	l := log.New(prefix)
	l.SetHeader(`${time_rfc3339} ${level} [${prefix}]`)
	l.SetLevel(log.Lvl(level.Load()))
	return l
}
