package mail

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	. "github.com/roelfdiedericks/tldr/internal/logging"
	"github.com/sethvargo/go-retry"
)

// Message is one unread newsletter fetched from the mailbox.
type Message struct {
	UID     uint32
	Subject string
	Raw     []byte // full RFC 5322 source
}

// IMAPConfig configures an IMAPMailbox.
type IMAPConfig struct {
	Host           string
	Port           int
	TLS            bool // implicit TLS (993); false upgrades with STARTTLS
	Username       string
	Password       string
	Mailbox        string
	ConnectRetries int
	RetryBase      time.Duration
}

type dialFunc func(address string, options *imapclient.Options) (*imapclient.Client, error)

// IMAPMailbox is a single logged-in IMAP session with the configured
// mailbox selected.
type IMAPMailbox struct {
	cfg  IMAPConfig
	dial dialFunc

	mu     sync.Mutex
	client *imapclient.Client
}

// NewIMAPMailbox creates an unconnected mailbox.
func NewIMAPMailbox(cfg IMAPConfig) *IMAPMailbox {
	if cfg.Port <= 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	m := &IMAPMailbox{cfg: cfg}
	if cfg.TLS {
		m.dial = imapclient.DialTLS
	} else {
		m.dial = imapclient.DialStartTLS
	}
	return m
}

func (m *IMAPMailbox) address() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

// Connect dials, logs in and selects the mailbox. Network failures are
// retried with exponential backoff; rejected credentials return *AuthError
// immediately.
func (m *IMAPMailbox) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return nil
	}

	start := time.Now()
	backoff := retry.WithMaxRetries(uint64(max(m.cfg.ConnectRetries, 0)), retry.NewExponential(m.cfg.RetryBase))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c, err := m.connectOnce()
		if err != nil {
			if IsAuthError(err) {
				return err
			}
			L_warn("imap: connect failed", "addr", m.address(), "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		m.client = c
		return nil
	})
	if err != nil {
		return err
	}

	L_elapsed(start, "imap: connected", "addr", m.address(), "mailbox", m.cfg.Mailbox)
	return nil
}

func (m *IMAPMailbox) connectOnce() (*imapclient.Client, error) {
	c, err := m.dial(m.address(), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", m.address(), err)
	}

	if err := c.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
		_ = c.Close()
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, &AuthError{Server: "imap", Username: m.cfg.Username, Err: err}
		}
		return nil, fmt.Errorf("imap login: %w", err)
	}

	if _, err := c.Select(m.cfg.Mailbox, nil).Wait(); err != nil {
		_ = c.Logout().Wait()
		_ = c.Close()
		return nil, fmt.Errorf("selecting %s: %w", m.cfg.Mailbox, err)
	}
	return c, nil
}

func (m *IMAPMailbox) session() (*imapclient.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil, errors.New("imap: not connected")
	}
	return m.client, nil
}

// Fetch returns every unseen message from sender in UID order. Bodies are
// fetched with BODY.PEEK so nothing is marked read until MarkRead.
func (m *IMAPMailbox) Fetch(ctx context.Context, sender string) ([]Message, error) {
	c, err := m.session()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Header:  []imap.SearchCriteriaHeaderField{{Key: "From", Value: sender}},
	}
	data, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		L_debug("imap: no unread messages", "sender", sender)
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{section},
	}
	fetchCmd := c.Fetch(imap.UIDSetNum(uids...), opts)
	defer fetchCmd.Close()

	var msgs []Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			L_warn("imap: failed to read message", "error", err)
			continue
		}
		raw := buf.FindBodySection(section)
		out := Message{UID: uint32(buf.UID), Raw: raw}
		if buf.Envelope != nil {
			out.Subject = buf.Envelope.Subject
		}
		if out.Subject == "" {
			out.Subject = Subject(raw)
		}
		msgs = append(msgs, out)
	}
	if err := fetchCmd.Close(); err != nil {
		return msgs, fmt.Errorf("fetching messages: %w", err)
	}

	sortByUID(msgs)
	L_info("imap: fetched unread messages", "sender", sender, "count", len(msgs))
	return msgs, nil
}

func sortByUID(msgs []Message) {
	slices.SortFunc(msgs, func(a, b Message) int { return cmp.Compare(a.UID, b.UID) })
}

// MarkRead adds \Seen to uids in a single STORE.
func (m *IMAPMailbox) MarkRead(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	c, err := m.session()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	set := make([]imap.UID, len(uids))
	for i, u := range uids {
		set[i] = imap.UID(u)
	}
	storeCmd := c.Store(imap.UIDSetNum(set...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking %d messages read: %w", len(uids), err)
	}
	L_debug("imap: marked read", "uids", formatUIDs(uids))
	return nil
}

func formatUIDs(uids []uint32) string {
	parts := make([]string, len(uids))
	for i, u := range uids {
		parts[i] = strconv.FormatUint(uint64(u), 10)
	}
	return strings.Join(parts, ",")
}

// Close logs out and drops the connection. Safe to call more than once.
func (m *IMAPMailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	c := m.client
	m.client = nil
	if err := c.Logout().Wait(); err != nil {
		L_debug("imap: logout failed", "error", err)
	}
	if err := c.Close(); err != nil {
		L_trace("imap: close", "error", err)
	}
	return nil
}
