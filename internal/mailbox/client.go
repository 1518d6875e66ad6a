// Package mailbox is a thin IMAP-over-TLS client that lists, searches,
// and fetches raw messages and sets or clears a single custom processed
// flag. It never parses message bytes; that is the canonical package's
// job.
package mailbox

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/portcall/mailgate/internal/errs"
)

// ProcessedFlag is the custom upstream keyword used as the ingestion
// cursor. Its polarity is fixed: absence means "needs processing",
// presence means "already processed". Never point a differently-flagged
// consumer at the same mailbox.
const ProcessedFlag imap.Flag = "$MailgateProcessed"

// deadlineConn enforces read/write deadlines on every I/O call so a dead
// peer cannot block the ingestion tick forever.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// Config configures a Client's connection.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// TLSConfig overrides the default verified-certificate config; nil
	// means "use crypto/tls defaults with ServerName set to Host", which
	// verifies the server certificate.
	TLSConfig *tls.Config
}

// DefaultConfig returns sensible IMAP-over-TLS defaults.
func DefaultConfig() Config {
	return Config{
		Port:           993,
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    3 * time.Minute,
		WriteTimeout:   30 * time.Second,
	}
}

// state is the client's connection state machine.
type state int

const (
	stateDisconnected state = iota
	stateConnected
	stateFolderSelected
)

// Client is the Mailbox Client. It is not safe for concurrent use by
// multiple goroutines; the ingestion pipeline owns one per run.
type Client struct {
	cfg    Config
	client *imapclient.Client
	caps   imap.CapSet
	state  state
}

// New creates a Client but does not connect.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, state: stateDisconnected}
}

// Connect dials, verifies the TLS certificate (crypto/tls's default
// verification against the host's certificate pool, with ServerName set to
// the configured host), and logs in.
func (c *Client) Connect() error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}
	tlsConfig := c.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: c.cfg.Host}
	}

	rawConn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	if err != nil {
		return errs.Wrapf(errs.Transport, err, "imap: dial %s", addr)
	}

	conn := &deadlineConn{Conn: rawConn, readTimeout: c.cfg.ReadTimeout, writeTimeout: c.cfg.WriteTimeout}
	c.client = imapclient.New(conn, &imapclient.Options{})

	if err := c.client.WaitGreeting(); err != nil {
		c.client.Close()
		return errs.Wrap(errs.Transport, err, "imap: greeting")
	}
	c.caps = c.client.Caps()
	c.state = stateConnected

	if err := c.login(); err != nil {
		c.Disconnect()
		return err
	}
	c.caps = c.client.Caps()

	// Some providers (notably NetEase) refuse SELECT until the client has
	// identified itself; send ID right after login when the server
	// advertises the extension. The response is informational only.
	if c.caps.Has(imap.Cap("ID")) {
		_, _ = c.client.ID(&imap.IDData{Name: "mailgate", Version: "1.0"}).Wait()
	}
	return nil
}

func (c *Client) login() error {
	if c.caps.Has(imap.CapLoginDisabled) {
		client := sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
		if err := c.client.Authenticate(client); err != nil {
			return errs.Wrap(errs.Auth, err, "imap: authenticate")
		}
		return nil
	}
	if err := c.client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		return errs.Wrap(errs.Auth, err, "imap: login")
	}
	return nil
}

// Disconnect logs out and closes the connection, returning the client to
// Disconnected. Only Disconnect (and a failed login inside Connect) moves
// the client back to Disconnected; a transport error from List, Select,
// Search, Fetch or Store is returned to the caller and leaves the state
// unchanged.
func (c *Client) Disconnect() error {
	if c.client == nil {
		c.state = stateDisconnected
		return nil
	}
	_ = c.client.Logout().Wait()
	err := c.client.Close()
	c.client = nil
	c.state = stateDisconnected
	if err != nil {
		return errs.Wrap(errs.Transport, err, "imap: close")
	}
	return nil
}

// ListFolders returns the names of all folders visible to the account.
func (c *Client) ListFolders() ([]string, error) {
	if c.state == stateDisconnected {
		return nil, errs.New(errs.Transport, "imap: not connected")
	}
	listCmd := c.client.List("", "*", nil)
	mailboxes, err := listCmd.Collect()
	if err != nil {
		return nil, errs.Wrap(errs.Transport, err, "imap: list")
	}
	names := make([]string, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		names = append(names, mbox.Mailbox)
	}
	return names, nil
}

// SelectFolder opens name for subsequent search/fetch/flag operations.
func (c *Client) SelectFolder(name string) error {
	if c.state == stateDisconnected {
		return errs.New(errs.Transport, "imap: not connected")
	}
	if _, err := c.client.Select(name, nil).Wait(); err != nil {
		return errs.Wrapf(errs.Transport, err, "imap: select %s", name)
	}
	c.state = stateFolderSelected
	return nil
}
