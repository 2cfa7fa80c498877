// Package iiod implements the text flavour of the IIOD network protocol used
// by libiio servers such as the one running on an ADALM-Pluto.
//
// Every command is a single CRLF-terminated line. The server answers with a
// decimal integer line; negative values are errno codes.
package iiod

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cadeo111/iqcapture/internal/logging"
)

// DefaultPort is the TCP port iiod listens on.
const DefaultPort = 30431

// ErrRejected matches any negative status returned by the server.
var ErrRejected = errors.New("iiod: command rejected")

// Error is a negative status returned for a command.
type Error struct {
	Op   string
	Code int
}

func (e *Error) Error() string {
	errno := syscall.Errno(-e.Code)
	return fmt.Sprintf("iiod %s: %s (%d)", e.Op, errno.Error(), e.Code)
}

// Is reports whether target is ErrRejected.
func (e *Error) Is(target error) bool { return target == ErrRejected }

// Version is the server version reported by VERSION.
type Version struct {
	Major int
	Minor int
	Tag   string
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%s", v.Major, v.Minor, v.Tag)
}

// Client speaks the IIOD text protocol over a single connection.
// It is safe for use by multiple goroutines; commands are serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
	log     logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a logger for protocol tracing at debug level.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTimeout bounds every read and write on the connection.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Dial connects to addr. A missing port defaults to DefaultPort.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial iiod %s: %w", addr, err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: 5 * time.Second,
		log:     logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) deadline() {
	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
}

func (c *Client) writeLine(cmd string) error {
	if c.conn == nil {
		return errors.New("iiod: connection closed")
	}
	c.deadline()
	c.log.Debug("iiod command", logging.Field{Key: "cmd", Value: cmd})
	if _, err := io.WriteString(c.conn, cmd+"\r\n"); err != nil {
		return fmt.Errorf("write command %q: %w", cmd, err)
	}
	return nil
}

// readLine returns the next line without its terminator.
func (c *Client) readLine() (string, error) {
	c.deadline()
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readInteger reads a status line. Stray blank lines are skipped, and
// anything after the leading integer is ignored.
func (c *Client) readInteger() (int, error) {
	for {
		line, err := c.readLine()
		if err != nil {
			return 0, fmt.Errorf("read status: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.IndexByte(line, ' '); i > 0 {
			line = line[:i]
		}
		v, err := strconv.Atoi(line)
		if err != nil {
			return 0, fmt.Errorf("parse status %q: %w", line, err)
		}
		return v, nil
	}
}

func (c *Client) exec(op, cmd string) (int, error) {
	if err := c.writeLine(cmd); err != nil {
		return 0, err
	}
	v, err := c.readInteger()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if v < 0 {
		return v, &Error{Op: op, Code: v}
	}
	return v, nil
}

// readPayload reads n bytes followed by the trailing newline.
func (c *Client) readPayload(n int) ([]byte, error) {
	buf := make([]byte, n)
	c.deadline()
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if b, err := c.r.ReadByte(); err == nil && b != '\n' {
		_ = c.r.UnreadByte()
	}
	return buf, nil
}

// Version queries the server protocol version.
func (c *Client) Version() (Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLine("VERSION"); err != nil {
		return Version{}, err
	}
	line, err := c.readLine()
	if err != nil {
		return Version{}, fmt.Errorf("read version: %w", err)
	}
	return parseVersion(line)
}

func parseVersion(line string) (Version, error) {
	parts := strings.SplitN(strings.TrimSpace(line), ".", 3)
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("parse version %q: too few fields", line)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("parse version major %q: %w", parts[0], err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return Version{}, fmt.Errorf("parse version minor %q: %w", parts[1], err)
	}
	v := Version{Major: major, Minor: minor}
	if len(parts) > 2 {
		v.Tag = strings.TrimSpace(parts[2])
	}
	return v, nil
}

// PrintXML fetches the raw context description.
func (c *Client) PrintXML() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.exec("print", "PRINT")
	if err != nil {
		return nil, err
	}
	return c.readPayload(n)
}

// Context fetches and parses the context description.
func (c *Client) Context() (*Context, error) {
	raw, err := c.PrintXML()
	if err != nil {
		return nil, err
	}
	return ParseContext(raw)
}

// SetTimeout changes the server-side I/O timeout.
func (c *Client) SetTimeout(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.exec("timeout", fmt.Sprintf("TIMEOUT %d", d.Milliseconds()))
	return err
}

// Attr addresses a device or channel attribute. An empty Channel refers to
// a device attribute.
type Attr struct {
	Device  string
	Channel string
	Output  bool
	Name    string
}

func (a Attr) target() string {
	if a.Channel == "" {
		return fmt.Sprintf("%s %s", a.Device, a.Name)
	}
	dir := "INPUT"
	if a.Output {
		dir = "OUTPUT"
	}
	return fmt.Sprintf("%s %s %s %s", a.Device, dir, a.Channel, a.Name)
}

func (a Attr) String() string {
	if a.Channel == "" {
		return a.Device + "/" + a.Name
	}
	return a.Device + "/" + a.Channel + "/" + a.Name
}

// ReadAttr returns the value of an attribute.
func (c *Client) ReadAttr(a Attr) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.exec("read "+a.String(), "READ "+a.target())
	if err != nil {
		return "", err
	}
	buf, err := c.readPayload(n)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00\n"), nil
}

// WriteAttr sets an attribute and returns the number of bytes accepted.
func (c *Client) WriteAttr(a Attr, value string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLine(fmt.Sprintf("WRITE %s %d", a.target(), len(value))); err != nil {
		return 0, err
	}
	c.deadline()
	if _, err := io.WriteString(c.conn, value); err != nil {
		return 0, fmt.Errorf("write attr payload: %w", err)
	}
	v, err := c.readInteger()
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", a, err)
	}
	if v < 0 {
		return v, &Error{Op: "write " + a.String(), Code: v}
	}
	return v, nil
}

// OpenBuffer creates a kernel buffer of samples entries for dev with the
// given channel mask.
func (c *Client) OpenBuffer(dev string, samples int, mask Mask, cyclic bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := fmt.Sprintf("OPEN %s %d %s", dev, samples, mask)
	if cyclic {
		cmd += " CYCLIC"
	}
	_, err := c.exec("open "+dev, cmd)
	return err
}

// CloseBuffer destroys the buffer of dev.
func (c *Client) CloseBuffer(dev string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.exec("close "+dev, "CLOSE "+dev)
	return err
}

// ReadBuffer fills dst with sample bytes from the open buffer of dev and
// returns the number of bytes read. The server may split the transfer into
// several chunks, each preceded by its length and the active channel mask.
func (c *Client) ReadBuffer(ctx context.Context, dev string, dst []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLine(fmt.Sprintf("READBUF %s %d", dev, len(dst))); err != nil {
		return 0, err
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := c.readInteger()
		if err != nil {
			return total, fmt.Errorf("readbuf %s: %w", dev, err)
		}
		if n < 0 {
			return total, &Error{Op: "readbuf " + dev, Code: n}
		}
		if n == 0 {
			return total, nil
		}
		if _, err := c.readLine(); err != nil {
			return total, fmt.Errorf("read mask line: %w", err)
		}
		if total+n > len(dst) {
			return total, fmt.Errorf("readbuf %s: server sent %d bytes, room for %d", dev, n, len(dst)-total)
		}
		c.deadline()
		if _, err := io.ReadFull(c.r, dst[total:total+n]); err != nil {
			return total, fmt.Errorf("read sample chunk: %w", err)
		}
		total += n
		if total == len(dst) {
			return total, nil
		}
	}
}
