// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package password prompts for an archive password on stdin with terminal
// echo suppressed, restoring the terminal state on every exit path
// including a panic, per the suspension-point contract in the concurrency
// section of the spec.
package password

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Prompt reads a password from stdin. If stdin is a terminal, echo is
// suppressed for the duration of the read and restored afterward
// regardless of how the function returns. If stdin is not a terminal
// (e.g. piped input in tests), it falls back to reading a line.
func Prompt(w io.Writer, message string) (string, error) {
	fmt.Fprint(w, message)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		return trimNewline(line), nil
	}

	state, err := term.GetState(fd)
	if err != nil {
		return "", err
	}
	defer term.Restore(fd, state)

	b, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
