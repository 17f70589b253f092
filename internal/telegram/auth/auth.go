// Package auth provides the interactive login layer for the userbot, built
// on gotd: reading phone/code/2FA from the console, accepting the ToS, and
// first-time registration.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

var (
	rlOnce sync.Once
	rl     *readline.Instance
	rlErr  error
)

// terminal lazily creates the shared readline instance on first prompt.
// Login only runs once per process, so a package-level singleton is
// simpler than threading an instance through TerminalAuthenticator.
func terminal() (*readline.Instance, error) {
	rlOnce.Do(func() {
		rl, rlErr = readline.New("")
	})
	return rl, rlErr
}

// readLine prints a prompt, reads a line from the shared readline instance
// and trims surrounding whitespace. Returns the read error verbatim
// (including io.EOF when stdin is closed).
func readLine(prompt string) (string, error) {
	term, err := terminal()
	if err != nil {
		return "", fmt.Errorf("init readline: %w", err)
	}
	term.SetPrompt(prompt)
	line, err := term.Readline()
	return strings.TrimSpace(line), err
}

// printf writes to the readline instance's stdout so prompt output doesn't
// get mangled by the line being redrawn underneath it. Falls back to the
// error from terminal() silently; login will surface it on the next prompt.
func printf(format string, a ...any) {
	term, err := terminal()
	if err != nil {
		fmt.Printf(format, a...)
		return
	}
	fmt.Fprintf(term.Stdout(), format, a...)
}

// TerminalAuthenticator implements auth.UserAuthenticator by collecting
// input from the terminal: phone number, confirmation code, 2FA password,
// ToS acceptance and first-time signup. Does not validate phone format.
type TerminalAuthenticator struct {
	PhoneNumber string
}

// Phone returns the pre-known phone number. Format is not validated; E.164 is expected.
func (t TerminalAuthenticator) Phone(_ context.Context) (string, error) {
	return t.PhoneNumber, nil
}

// Code prompts for the confirmation code Telegram sent. sentCode carries
// metadata about the delivery channel, unused here.
func (t TerminalAuthenticator) Code(_ context.Context, sentCode *tg.AuthSentCode) (string, error) {
	return readLine("Enter the code from Telegram: ")
}

// Password reads the 2FA password without echoing input.
func (t TerminalAuthenticator) Password(_ context.Context) (string, error) {
	printf("Enter 2FA password: ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	printf("\n")
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// AcceptTermsOfService prints the ToS text and requires an explicit "y"/"Y" to proceed.
func (t TerminalAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if resp != "y" && resp != "Y" {
		return errors.New("user did not accept terms of service")
	}
	return nil
}

// SignUp is invoked for an unregistered number: collects first/last name for registration.
func (t TerminalAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	firstName, err := readLine("Enter your first name: ")
	if err != nil {
		return auth.UserInfo{}, err
	}
	lastName, _ := readLine("Enter your last name (optional): ")
	return auth.UserInfo{
		FirstName: firstName,
		LastName:  lastName,
	}, nil
}
