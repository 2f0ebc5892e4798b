package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// SecretItems maps the names operators type to keychain items
var SecretItems = map[string]string{
	"gemini": KeyringGeminiKeyItem,
	"openai": KeyringOpenAIKeyItem,
	"sms":    KeyringSMSTokenItem,
}

// ReadSecret prompts on stderr and reads a secret from stdin without echo
// when stdin is a terminal. Piped input is read as one line.
func ReadSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if IsInteractive() {
		bytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}
	return readLine(os.Stdin)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// IsInteractive returns true if stdin is a terminal (not piped)
func IsInteractive() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// MaskSecret keeps the first and last four characters
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
