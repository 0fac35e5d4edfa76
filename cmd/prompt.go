package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// stdin is shared so consecutive prompts do not lose buffered input.
var stdin = bufio.NewReader(os.Stdin)

// readPassword returns the flag value, then $DTT_PASSWORD, then a prompted
// line.
func readPassword(flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv("DTT_PASSWORD"); v != "" {
		return v, nil
	}
	return promptLine(prompt)
}

// promptLine prints prompt to stderr and reads one non-empty line.
func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	v := strings.TrimRight(line, "\r\n")
	if v == "" {
		return "", errors.New("input must not be empty")
	}
	return v, nil
}
