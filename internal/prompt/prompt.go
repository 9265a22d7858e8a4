// Package prompt reads credentials from the controlling terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var ErrEmptyInput = errors.New("empty input")

type Terminal struct {
	in  *bufio.Reader
	out io.Writer

	fd           int
	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
}

// NewTerminal prompts on stderr and reads from stdin. Passwords are read
// without echo when stdin is a terminal, and as a plain line otherwise.
func NewTerminal() *Terminal {
	return &Terminal{
		in:           bufio.NewReader(os.Stdin),
		out:          os.Stderr,
		fd:           int(os.Stdin.Fd()),
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", ErrEmptyInput
	}
	return line, nil
}

func (t *Terminal) Username() (string, error) {
	fmt.Fprint(t.out, "Username: ")
	name, err := t.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read username: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("failed to read username: %w", ErrEmptyInput)
	}
	return name, nil
}

func (t *Terminal) Password(notice string) (string, error) {
	if notice != "" {
		fmt.Fprintln(t.out, color.YellowString(notice))
	}
	fmt.Fprint(t.out, "Password: ")
	if !t.isTerminal(t.fd) {
		secret, err := t.readLine()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return secret, nil
	}
	bytePassword, err := t.readPassword(t.fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}
