package upload

import (
	"fmt"

	"github.com/InsulaLabs/meshsync/internal/wire"
)

// RetryNotice is shown before every password prompt after the first.
const RetryNotice = "Permission denied, please try again."

// Prompter reads credentials from the operator.
type Prompter interface {
	Username() (string, error)
	// Password reads a secret without echo. notice, when not empty, is shown
	// first.
	Password(notice string) (string, error)
}

type Credentials struct {
	Username string
	Password string
}

// handleAuthenticate answers one authentication round. A request without a
// username starts over; a request naming a user wants that user's password.
func (m *Machine) handleAuthenticate(req *wire.AuthenticateRequest) error {
	if req.Username == "" {
		m.ctx.AuthAttempts = 0
		name := m.creds.Username
		if name == "" {
			var err error
			if name, err = m.promptUsername(); err != nil {
				return err
			}
		}
		m.logger.Debug("Sending username", "username", name)
		return m.send(&wire.UserAuthenticate{Username: name, Method: wire.AuthNone})
	}

	if !req.Offers(wire.AuthPassword) {
		return fmt.Errorf("%w: offered %v", ErrNoSupportedAuthMethod, req.Methods)
	}

	m.ctx.AuthAttempts++
	secret := m.creds.Password
	if m.ctx.AuthAttempts > 1 || secret == "" {
		notice := ""
		if m.ctx.AuthAttempts > 1 {
			notice = RetryNotice
		}
		var err error
		if secret, err = m.promptPassword(notice); err != nil {
			return err
		}
	}
	m.logger.Debug("Sending password", "username", req.Username, "attempt", m.ctx.AuthAttempts)
	return m.send(&wire.UserAuthenticate{Username: req.Username, Method: wire.AuthPassword, Secret: secret})
}

func (m *Machine) promptUsername() (string, error) {
	if m.prompter == nil {
		return "", fmt.Errorf("%w: no username configured and no terminal", ErrPrompt)
	}
	name, err := m.prompter.Username()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPrompt, err)
	}
	return name, nil
}

func (m *Machine) promptPassword(notice string) (string, error) {
	if m.prompter == nil {
		return "", fmt.Errorf("%w: no password configured and no terminal", ErrPrompt)
	}
	secret, err := m.prompter.Password(notice)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPrompt, err)
	}
	return secret, nil
}
