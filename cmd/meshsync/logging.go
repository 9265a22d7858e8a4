package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/fatih/color"
)

func parseLevel(level string) (log.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel, true
	case "info", "":
		return log.InfoLevel, true
	case "warn", "warning":
		return log.WarnLevel, true
	case "error":
		return log.ErrorLevel, true
	}
	return log.InfoLevel, false
}

func levelStyle(label, bg string) lipgloss.Style {
	return lipgloss.NewStyle().
		SetString(label).
		Bold(true).
		Padding(0, 1, 0, 1).
		Background(lipgloss.Color(bg)).
		Foreground(lipgloss.Color("0"))
}

// newLogger builds the console logger. The charm logger doubles as the
// slog handler so every package keeps taking a *slog.Logger.
func newLogger(level string) *slog.Logger {
	lvl, ok := parseLevel(level)
	if !ok {
		fmt.Fprintf(os.Stderr, "%s unknown log level %q, using info\n", color.HiYellowString("Warning:"), level)
	}

	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		Prefix:          "meshsync",
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})

	styles := log.DefaultStyles()
	styles.Levels[log.DebugLevel] = levelStyle("DEBUG", "63")
	styles.Levels[log.InfoLevel] = levelStyle("INFO", "86")
	styles.Levels[log.WarnLevel] = levelStyle("WARN", "192")
	styles.Levels[log.ErrorLevel] = levelStyle("ERROR", "204")
	styles.Keys["error"] = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	styles.Values["error"] = lipgloss.NewStyle().Bold(true)
	handler.SetStyles(styles)

	return slog.New(handler)
}
