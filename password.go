package govcmount

import "golang.org/x/term"

// ReadPassword reads a passphrase from the terminal attached to fd without
// echoing it, for an embedding application that wants to prompt on a real
// terminal. It is an optional helper, not a CLI.
func ReadPassword(fd int) (string, error) {
	b, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	defer zero(b)
	return string(b), nil
}
