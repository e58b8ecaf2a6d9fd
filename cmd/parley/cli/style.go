// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Styles renders message listings. Colors degrade to plain text when w
// is not a terminal.
type Styles struct {
	Timestamp lipgloss.Style
	Sender    lipgloss.Style
	Self      lipgloss.Style
	Type      lipgloss.Style
	Body      lipgloss.Style
	Undecoded lipgloss.Style
	Reaction  lipgloss.Style
}

// NewStyles returns the listing styles for output written to w.
func NewStyles(w io.Writer) Styles {
	renderer := lipgloss.NewRenderer(w)
	return Styles{
		Timestamp: renderer.NewStyle().Foreground(lipgloss.Color("245")),
		Sender:    renderer.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		Self:      renderer.NewStyle().Foreground(lipgloss.Color("70")).Bold(true),
		Type:      renderer.NewStyle().Foreground(lipgloss.Color("244")).Italic(true),
		Body:      renderer.NewStyle(),
		Undecoded: renderer.NewStyle().Foreground(lipgloss.Color("203")).Italic(true),
		Reaction:  renderer.NewStyle().Foreground(lipgloss.Color("220")).PaddingLeft(4),
	}
}
