// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/term"
)

// DefaultWidth is the wrap width when the output is not a terminal.
const DefaultWidth = 80

// minimumWidth keeps deeply nested content from wrapping one word per
// line.
const minimumWidth = 16

// wrapBreakpoints are the extra characters ansi.Wrap may break after.
const wrapBreakpoints = " ,.;-+|"

// TerminalWidth returns w's column count when it is a terminal, and
// DefaultWidth otherwise.
func TerminalWidth(w io.Writer) int {
	if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		if width, _, err := term.GetSize(int(file.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return DefaultWidth
}

// Markdown renders message text written in GitHub-flavored markdown as
// wrapped, styled terminal lines. A Markdown is safe for concurrent
// use.
type Markdown struct {
	parser   goldmark.Markdown
	renderer *lipgloss.Renderer
	width    int
	style    string
}

// NewMarkdown returns a renderer for output written to w, wrapping at
// width columns. Colors follow w's detected profile.
func NewMarkdown(w io.Writer, width int) *Markdown {
	return newMarkdown(lipgloss.NewRenderer(w), width)
}

// NewMarkdownWithProfile is NewMarkdown with a fixed color profile.
// termenv.Ascii produces plain text.
func NewMarkdownWithProfile(w io.Writer, width int, profile termenv.Profile) *Markdown {
	renderer := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)
	return newMarkdown(renderer, width)
}

func newMarkdown(renderer *lipgloss.Renderer, width int) *Markdown {
	if width < minimumWidth {
		width = minimumWidth
	}
	return &Markdown{
		parser:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
		renderer: renderer,
		width:    width,
		style:    "monokai",
	}
}

// Render returns input's terminal rendering without a trailing
// newline. Every line but the first starts with indent.
func (m *Markdown) Render(input, indent string) string {
	if strings.TrimSpace(input) == "" {
		return input
	}
	source := []byte(input)
	document := m.parser.Parser().Parse(text.NewReader(source))
	walker := &markdownWalker{
		markdown:  m,
		source:    source,
		prefix:    indent,
		prefixLen: ansi.StringWidth(indent),
	}
	ast.Walk(document, walker.walk)
	rendered := strings.TrimRight(walker.output.String(), "\n")
	return strings.TrimPrefix(rendered, indent)
}

// markdownWalker holds the state of one Render call.
type markdownWalker struct {
	markdown *Markdown
	source   []byte

	output strings.Builder
	// inline collects a block's styled text until the block closes.
	inline strings.Builder

	prefix    string
	prefixLen int
	prefixes  []string
	// bullet replaces prefix on the next emitted line.
	bullet string

	bold, italic, strike int
	lists                []listLevel
	blank                bool
}

type listLevel struct {
	ordered bool
	next    int
}

func (w *markdownWalker) style() lipgloss.Style { return w.markdown.renderer.NewStyle() }

func (w *markdownWalker) width() int {
	return max(w.markdown.width-w.prefixLen, minimumWidth)
}

func (w *markdownWalker) pushPrefix(p string) {
	w.prefixes = append(w.prefixes, p)
	w.prefix += p
	w.prefixLen += ansi.StringWidth(p)
}

func (w *markdownWalker) popPrefix() {
	last := w.prefixes[len(w.prefixes)-1]
	w.prefixes = w.prefixes[:len(w.prefixes)-1]
	w.prefix = strings.TrimSuffix(w.prefix, last)
	w.prefixLen -= ansi.StringWidth(last)
}

// emit writes block content line by line under the current prefix and
// separates it from the next block.
func (w *markdownWalker) emit(content string) {
	if w.blank && len(w.lists) == 0 {
		w.output.WriteString(w.prefix + "\n")
	}
	for _, line := range strings.Split(content, "\n") {
		if w.bullet != "" {
			w.output.WriteString(w.bullet)
			w.bullet = ""
		} else {
			w.output.WriteString(w.prefix)
		}
		w.output.WriteString(line)
		w.output.WriteString("\n")
	}
	w.blank = true
}

func (w *markdownWalker) flush() string {
	content := w.inline.String()
	w.inline.Reset()
	return ansi.Wrap(content, w.width(), wrapBreakpoints)
}

func (w *markdownWalker) styled(s string) string {
	style := w.style()
	if w.bold > 0 {
		style = style.Bold(true)
	}
	if w.italic > 0 {
		style = style.Italic(true)
	}
	if w.strike > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(s)
}

func (w *markdownWalker) lines(node ast.Node) string {
	var content strings.Builder
	segments := node.Lines()
	for i := 0; i < segments.Len(); i++ {
		segment := segments.At(i)
		content.Write(segment.Value(w.source))
	}
	return strings.TrimRight(content.String(), "\n")
}

func (w *markdownWalker) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {
	case ast.KindParagraph, ast.KindTextBlock:
		if entering {
			w.inline.Reset()
		} else if content := w.flush(); content != "" {
			w.emit(content)
		}

	case ast.KindHeading:
		if entering {
			w.inline.Reset()
		} else {
			heading := ansi.Strip(w.inline.String())
			w.inline.Reset()
			w.emit(ansi.Wrap(w.style().Bold(true).Underline(true).Render(heading), w.width(), wrapBreakpoints))
		}

	case ast.KindFencedCodeBlock:
		if entering {
			block := node.(*ast.FencedCodeBlock)
			w.emit(w.highlight(w.lines(block), string(block.Language(w.source))))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindCodeBlock:
		if entering {
			w.emit(w.highlight(w.lines(node), ""))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			w.pushPrefix(w.style().Faint(true).Render("│") + " ")
		} else {
			w.popPrefix()
		}

	case ast.KindList:
		if entering {
			list := node.(*ast.List)
			w.lists = append(w.lists, listLevel{ordered: list.IsOrdered(), next: list.Start})
		} else {
			w.lists = w.lists[:len(w.lists)-1]
		}

	case ast.KindListItem:
		if entering {
			level := &w.lists[len(w.lists)-1]
			marker := "• "
			if level.ordered {
				marker = fmt.Sprintf("%d. ", level.next)
				level.next++
			}
			w.bullet = w.prefix + marker
			w.pushPrefix(strings.Repeat(" ", len([]rune(marker))))
		} else {
			w.popPrefix()
		}

	case ast.KindThematicBreak:
		if entering {
			w.emit(w.style().Faint(true).Render(strings.Repeat("─", min(w.width(), 40))))
		}

	case ast.KindText:
		if entering {
			textNode := node.(*ast.Text)
			w.inline.WriteString(w.styled(string(textNode.Segment.Value(w.source))))
			switch {
			case textNode.HardLineBreak():
				w.inline.WriteString("\n")
			case textNode.SoftLineBreak():
				w.inline.WriteString(" ")
			}
		}

	case ast.KindString:
		if entering {
			w.inline.WriteString(w.styled(string(node.(*ast.String).Value)))
		}

	case ast.KindEmphasis:
		counter := &w.italic
		if node.(*ast.Emphasis).Level >= 2 {
			counter = &w.bold
		}
		if entering {
			*counter++
		} else {
			*counter--
		}

	case extast.KindStrikethrough:
		if entering {
			w.strike++
		} else {
			w.strike--
		}

	case ast.KindCodeSpan:
		if entering {
			var code strings.Builder
			for child := node.FirstChild(); child != nil; child = child.NextSibling() {
				if textNode, ok := child.(*ast.Text); ok {
					code.Write(textNode.Segment.Value(w.source))
				}
			}
			w.inline.WriteString(w.style().Reverse(true).Render(code.String()))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if !entering {
			if destination := string(node.(*ast.Link).Destination); destination != "" {
				w.inline.WriteString(" " + w.style().Faint(true).Render("<"+destination+">"))
			}
		}

	case ast.KindAutoLink:
		if entering {
			w.inline.WriteString(w.style().Underline(true).Render(string(node.(*ast.AutoLink).URL(w.source))))
		}

	case ast.KindImage:
		if entering {
			image := node.(*ast.Image)
			w.inline.WriteString(w.style().Faint(true).Render("[image " + string(image.Destination) + "]"))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindHTMLBlock:
		if entering {
			w.emit(w.style().Faint(true).Render(w.lines(node)))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindRawHTML:
		if entering {
			raw := node.(*ast.RawHTML)
			for i := 0; i < raw.Segments.Len(); i++ {
				segment := raw.Segments.At(i)
				w.inline.WriteString(w.style().Faint(true).Render(string(segment.Value(w.source))))
			}
		}
	}
	return ast.WalkContinue, nil
}

// highlight renders code with chroma when the language is known and
// the renderer has colors, and faint plain text otherwise.
func (w *markdownWalker) highlight(code, language string) string {
	if language != "" && w.markdown.renderer.ColorProfile() != termenv.Ascii {
		var highlighted strings.Builder
		if err := quick.Highlight(&highlighted, code, language, "terminal256", w.markdown.style); err == nil {
			return strings.TrimRight(highlighted.String(), "\n")
		}
	}
	return w.style().Faint(true).Render(code)
}
