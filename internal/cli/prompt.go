// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keybox.
//
// go-keybox is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// fder is implemented by *os.File.
type fder interface {
	Fd() uintptr
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(fder)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readSecret reads one secret line. On a terminal the input is not echoed;
// otherwise a single line is read from in.
func readSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	if isTerminal(in) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(int(in.(fder).Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// passphrase resolves a passphrase from --passphrase-file or a prompt. With
// confirm, the prompt asks twice and the answers must match.
func passphrase(in io.Reader, out io.Writer, file string, confirm bool) (string, error) {
	if file != "" {
		// #nosec G304 - path is provided by the user
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %w", err)
		}
		return string(bytes.TrimRight(data, "\r\n")), nil
	}

	// One reader for both prompts so buffered input is not lost.
	src := in
	if !isTerminal(in) {
		src = bufio.NewReader(in)
	}

	first, err := readSecret(src, out, "Passphrase: ")
	if err != nil {
		return "", err
	}
	if !confirm {
		return first, nil
	}
	second, err := readSecret(src, out, "Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}
