// Package mailcode waits for the portal's two-factor e-mail and pulls the
// verification code out of it.
package mailcode

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	// ErrCodeNotReceived is returned when no code arrived before the timeout.
	ErrCodeNotReceived = errors.New("2FA code not received")

	// ErrLogin is returned when the mailbox rejects the credentials.
	ErrLogin = errors.New("mailbox login failed")

	errNoCodeYet = errors.New("no code yet")
)

// DefaultSubject is the subject line of the portal's verification e-mail.
const DefaultSubject = "Your Ternium account verification code"

var codePattern = regexp.MustCompile(`\b\d{6,8}\b`)

// ExtractCode returns the first standalone run of 6 to 8 digits in text.
func ExtractCode(text string) (string, bool) {
	code := codePattern.FindString(text)
	return code, code != ""
}

// Mailbox lists the bodies of unread messages with the given subject,
// newest first.
type Mailbox interface {
	UnseenBodies(ctx context.Context, subject string) ([]string, error)
}

type Logger interface {
	Debugf(format string, args ...any)
}

type Options struct {
	Subject  string
	Timeout  time.Duration // total wait, default 120s
	Interval time.Duration // pause between checks, default 3s
}

// Fetcher polls a Mailbox until a code shows up.
type Fetcher struct {
	mailbox  Mailbox
	log      Logger
	subject  string
	timeout  time.Duration
	interval time.Duration
}

func NewFetcher(mailbox Mailbox, log Logger, opts Options) *Fetcher {
	f := &Fetcher{
		mailbox:  mailbox,
		log:      log,
		subject:  opts.Subject,
		timeout:  opts.Timeout,
		interval: opts.Interval,
	}
	if f.subject == "" {
		f.subject = DefaultSubject
	}
	if f.timeout <= 0 {
		f.timeout = 120 * time.Second
	}
	if f.interval <= 0 {
		f.interval = 3 * time.Second
	}
	return f
}

// Code waits for the verification e-mail and returns its code. Mailbox
// errors other than a rejected login are retried until the timeout.
func (f *Fetcher) Code(ctx context.Context) (string, error) {
	attempt := 0
	check := func() (string, error) {
		attempt++
		bodies, err := f.mailbox.UnseenBodies(ctx, f.subject)
		if err != nil {
			if errors.Is(err, ErrLogin) {
				return "", backoff.Permanent(err)
			}
			f.log.Debugf("Mailbox check %d failed: %v", attempt, err)
			return "", err
		}
		for _, body := range bodies {
			if code, ok := ExtractCode(body); ok {
				return code, nil
			}
		}
		if attempt == 1 {
			f.log.Debugf("Waiting for %q e-mail", f.subject)
		}
		return "", errNoCodeYet
	}

	code, err := backoff.Retry(ctx, check,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.interval)),
		backoff.WithMaxElapsedTime(f.timeout),
	)
	if err == nil {
		return code, nil
	}
	if errors.Is(err, ErrLogin) {
		return "", err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if errors.Is(err, errNoCodeYet) {
		return "", fmt.Errorf("%w within %v", ErrCodeNotReceived, f.timeout)
	}
	return "", fmt.Errorf("%w within %v: %v", ErrCodeNotReceived, f.timeout, err)
}
