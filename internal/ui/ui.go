// Package ui holds terminal styling helpers for CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// RenderAccent highlights a string in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders a warning marker.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders a failure marker.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderDim renders secondary text.
func RenderDim(s string) string { return dimStyle.Render(s) }

// RenderHeader renders a section heading.
func RenderHeader(s string) string { return headerStyle.Render(s) }
