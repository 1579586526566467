package main

import (
	"fmt"
	"os"
	"strings"
)

// progressMode selects when `check` draws its per-file progress view.
type progressMode uint8

const (
	progressAuto progressMode = iota
	progressAlways
	progressNever
)

func (m progressMode) String() string {
	switch m {
	case progressAlways:
		return "on"
	case progressNever:
		return "off"
	default:
		return "auto"
	}
}

func parseProgressMode(value string) (progressMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return progressAuto, nil
	case "on", "always":
		return progressAlways, nil
	case "off", "never":
		return progressNever, nil
	}
	return progressAuto, fmt.Errorf("invalid --ui value %q (want auto|on|off)", value)
}

// drawsProgress reports whether the view goes to stderr. In auto mode it
// needs a terminal that can redraw lines.
func (m progressMode) drawsProgress() bool {
	switch m {
	case progressAlways:
		return true
	case progressNever:
		return false
	}
	return isTerminal(os.Stderr) && os.Getenv("TERM") != "dumb"
}
