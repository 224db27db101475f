package app

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// PassphraseFunc supplies the passphrase protecting secure storage.
type PassphraseFunc func() (string, error)

// ErrNoPassphrase is returned when no passphrase source is available.
var ErrNoPassphrase = errors.New("no passphrase available: set " + EnvPassphrase + " or run from a terminal")

// PromptPassphrase reads the passphrase from EMPCTL_PASSPHRASE, or from the
// terminal without echo.
func PromptPassphrase(prompt string) PassphraseFunc {
	return func() (string, error) {
		return readPassphrase(prompt, os.Getenv(EnvPassphrase), int(os.Stdin.Fd()), os.Stderr)
	}
}

func readPassphrase(prompt, fromEnv string, fd int, out io.Writer) (string, error) {
	if fromEnv != "" {
		return fromEnv, nil
	}
	if !term.IsTerminal(fd) {
		return "", ErrNoPassphrase
	}
	fmt.Fprint(out, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}
