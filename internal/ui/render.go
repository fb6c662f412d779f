package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func symbol(emoji, plain string) string {
	if ShouldUseEmoji() {
		return emoji
	}
	return plain
}

// RenderPass prints a success line, styled green when color is appropriate.
func RenderPass(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	line := symbol("✓", "[ok]") + " " + msg
	if ShouldUseColor() {
		line = passStyle.Render(symbol("✓", "[ok]")) + " " + msg
	}
	fmt.Println(line)
}

// RenderWarn prints a warning line to stderr, styled yellow when color is appropriate.
func RenderWarn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	line := symbol("⚠", "[warn]") + " " + msg
	if ShouldUseColor() {
		line = warnStyle.Render(symbol("⚠", "[warn]")) + " " + msg
	}
	fmt.Fprintln(os.Stderr, line)
}

// RenderFail prints a failure line to stderr, styled red when color is appropriate.
func RenderFail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	line := symbol("✗", "[fail]") + " " + msg
	if ShouldUseColor() {
		line = failStyle.Render(symbol("✗", "[fail]")) + " " + msg
	}
	fmt.Fprintln(os.Stderr, line)
}
