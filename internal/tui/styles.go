// Package tui implements the Bubble Tea views for databus.
package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Tokyo Night color palette.
var (
	colorGreen  = lipgloss.Color("#9ece6a") // green
	colorYellow = lipgloss.Color("#e0af68") // yellow
	colorRed    = lipgloss.Color("#f7768e") // red
	colorBlue   = lipgloss.Color("#7aa2f7") // blue
	colorGray   = lipgloss.Color("#565f89") // comment
	colorWhite  = lipgloss.Color("#c0caf5") // foreground
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			PaddingLeft(1)

	tagStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	waitingStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	dataStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	itemIndexStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			Width(5).
			Align(lipgloss.Right).
			PaddingRight(1)

	itemStyle = lipgloss.NewStyle().
			Foreground(colorWhite)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			PaddingLeft(1)

	statusBarStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			PaddingBottom(1)
)

const iconDot = "•"
