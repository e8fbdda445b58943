package mailcode

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

type IMAPConfig struct {
	Host     string
	Port     int // 143 plain, 993 TLS
	Username string
	Password string
	TLS      bool
	Folder   string // default INBOX
}

// IMAPMailbox keeps one logged-in session open between checks and
// reconnects after any error.
type IMAPMailbox struct {
	cfg IMAPConfig
	log Logger
	c   *client.Client
}

func NewIMAPMailbox(cfg IMAPConfig, log Logger) *IMAPMailbox {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.Port == 0 {
		cfg.Port = 143
		if cfg.TLS {
			cfg.Port = 993
		}
	}
	return &IMAPMailbox{cfg: cfg, log: log}
}

func (m *IMAPMailbox) connect() error {
	if m.c != nil {
		return nil
	}
	if m.cfg.Host == "" {
		return fmt.Errorf("%w: no mail host configured", ErrLogin)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var (
		c   *client.Client
		err error
	)
	if m.cfg.TLS {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: m.cfg.Host})
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	c.Timeout = 30 * time.Second

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		c.Logout()
		return fmt.Errorf("%w: %v", ErrLogin, err)
	}
	if _, err := c.Select(m.cfg.Folder, false); err != nil {
		c.Logout()
		return fmt.Errorf("select %s: %w", m.cfg.Folder, err)
	}

	m.log.Debugf("Logged in to %s as %s", addr, m.cfg.Username)
	m.c = c
	return nil
}

func (m *IMAPMailbox) UnseenBodies(ctx context.Context, subject string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.connect(); err != nil {
		return nil, err
	}

	bodies, err := m.unseenBodies(subject)
	if err != nil {
		m.Close()
	}
	return bodies, err
}

func (m *IMAPMailbox) unseenBodies(subject string) ([]string, error) {
	// lets the server report messages that arrived since the last check
	if err := m.c.Noop(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("Subject", subject)

	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, messages)
	}()

	byUID := make(map[uint32]string, len(uids))
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		text, err := BodyText(r)
		if err != nil {
			m.log.Debugf("Skipping message %d: %v", msg.Uid, err)
			continue
		}
		byUID[msg.Uid] = text
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	out := make([]string, 0, len(byUID))
	for _, uid := range uids {
		if text, ok := byUID[uid]; ok {
			out = append(out, text)
		}
	}
	return out, nil
}

// Close logs out. The next check reconnects.
func (m *IMAPMailbox) Close() error {
	if m.c == nil {
		return nil
	}
	err := m.c.Logout()
	m.c = nil
	return err
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// BodyText returns the plain-text part of a raw RFC 822 message, or the
// HTML part with tags stripped when there is no plain-text part.
func BodyText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return "", err
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return "", err
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", err
		}
		switch {
		case ct == "text/plain" && plain == "":
			plain = string(b)
		case ct == "text/html" && html == "":
			html = string(b)
		}
	}

	if strings.TrimSpace(plain) != "" {
		return plain, nil
	}
	return htmlTag.ReplaceAllString(html, " "), nil
}
