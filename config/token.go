package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken is returned when neither MEETUP_TOKEN nor MEETUP_TOKEN_FILE
// yields a token.
var ErrNoToken = errors.New("config: no meetup token configured")

// ResolveToken returns the Meetup auth token: Token when set, otherwise the
// first line of TokenFile.
func (m MeetupConfig) ResolveToken() (string, error) {
	if tok := strings.TrimSpace(m.Token); tok != "" {
		return tok, nil
	}
	if m.TokenFile == "" {
		return "", ErrNoToken
	}
	return ReadTokenFile(m.TokenFile)
}

// ReadTokenFile returns the trimmed first line of path.
func ReadTokenFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, path)
	}
	tok := strings.TrimSpace(sc.Text())
	if tok == "" {
		return "", fmt.Errorf("%w: first line of %s is blank", ErrNoToken, path)
	}
	return tok, nil
}
