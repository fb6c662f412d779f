package main

import (
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/vaultcore/vaultcore/internal/ui"
)

// promptSecret reads a masked value from the terminal, falling back to a
// plain (non-interactive) prompt when stdout isn't a TTY so scripted runs
// and testscript fixtures still work.
func promptSecret(label, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if !ui.IsTerminal() {
		return "", fmt.Errorf("%s required (pass it explicitly; no TTY to prompt on)", label)
	}

	var value string
	field := huh.NewInput().
		Title(label).
		EchoMode(huh.EchoModePassword).
		Value(&value)

	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return value, nil
}
