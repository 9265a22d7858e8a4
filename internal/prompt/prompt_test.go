package prompt

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTerminal(input string, tty bool, secret string) (*Terminal, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Terminal{
		in:         bufio.NewReader(strings.NewReader(input)),
		out:        out,
		isTerminal: func(int) bool { return tty },
		readPassword: func(int) ([]byte, error) {
			if secret == "" {
				return nil, errors.New("not a tty")
			}
			return []byte(secret), nil
		},
	}, out
}

func TestTerminal_Username(t *testing.T) {
	term, out := newTestTerminal("  joe \r\n", false, "")
	name, err := term.Username()
	require.NoError(t, err)
	assert.Equal(t, "joe", name)
	assert.Equal(t, "Username: ", out.String())

	term, _ = newTestTerminal("\n", false, "")
	_, err = term.Username()
	assert.ErrorIs(t, err, ErrEmptyInput)

	term, _ = newTestTerminal(" \t \n", false, "")
	_, err = term.Username()
	assert.ErrorIs(t, err, ErrEmptyInput)

	term, _ = newTestTerminal("", false, "")
	_, err = term.Username()
	assert.Error(t, err)
}

func TestTerminal_PasswordFromTTY(t *testing.T) {
	term, out := newTestTerminal("", true, "hunter2")
	secret, err := term.Password("Permission denied, please try again.")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
	assert.Contains(t, out.String(), "Permission denied, please try again.")
	assert.NotContains(t, out.String(), "hunter2")

	term, _ = newTestTerminal("", true, "")
	_, err = term.Password("")
	assert.Error(t, err)
}

func TestTerminal_PasswordFromPipe(t *testing.T) {
	term, out := newTestTerminal("piped secret\n", false, "")
	secret, err := term.Password("")
	require.NoError(t, err)
	assert.Equal(t, "piped secret", secret)
	assert.Equal(t, "Password: ", out.String())
}
