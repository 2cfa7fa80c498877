package sdr

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach the Pluto's shell for sysfs writes. Old
// firmware ships an iiod that rejects some attribute writes; the same
// attribute can still be set through /sys/bus/iio/devices.
type SSHConfig struct {
	Host      string `yaml:"host" toml:"host" json:"host"`
	User      string `yaml:"user" toml:"user" json:"user"`
	Password  string `yaml:"password" toml:"password" json:"-"`
	KeyPath   string `yaml:"key_path" toml:"key_path" json:"key_path"`
	Port      int    `yaml:"port" toml:"port" json:"port"`
	SysfsRoot string `yaml:"sysfs_root" toml:"sysfs_root" json:"sysfs_root"`
}

// AttributeWriter writes an IIO attribute by its sysfs file name.
type AttributeWriter interface {
	WriteAttribute(ctx context.Context, device, filename, value string) error
	Close() error
}

// SSHAttributeWriter writes sysfs attributes over an SSH session. The SSH
// connection is opened lazily on the first write and reused.
type SSHAttributeWriter struct {
	mu     sync.Mutex
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSHAttributeWriter validates cfg and fills in defaults.
func NewSSHAttributeWriter(cfg SSHConfig) (*SSHAttributeWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required for sysfs fallback")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = "/sys/bus/iio/devices"
	}
	return &SSHAttributeWriter{cfg: cfg}, nil
}

// WriteAttribute writes value to <root>/<device>/<filename>.
func (w *SSHAttributeWriter) WriteAttribute(ctx context.Context, device, filename, value string) error {
	client, err := w.dial(ctx)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	cmd := fmt.Sprintf("printf %%s %s > %s", shellQuote(value), shellQuote(w.attributePath(device, filename)))
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("write sysfs %s/%s: %w", device, filename, err)
	}
	return nil
}

// Close tears down the SSH connection if one was opened.
func (w *SSHAttributeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil
	}
	err := w.client.Close()
	w.client = nil
	return err
}

func (w *SSHAttributeWriter) dial(ctx context.Context) (*ssh.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return w.client, nil
	}

	var auth []ssh.AuthMethod
	if w.cfg.Password != "" {
		auth = append(auth, ssh.Password(w.cfg.Password))
	}
	if w.cfg.KeyPath != "" {
		key, err := os.ReadFile(w.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            w.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	addr := net.JoinHostPort(w.cfg.Host, strconv.Itoa(w.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}
	w.client = ssh.NewClient(clientConn, chans, reqs)
	return w.client, nil
}

func (w *SSHAttributeWriter) attributePath(device, filename string) string {
	return path.Join(w.cfg.SysfsRoot, device, filename)
}

// sysfsFilename derives the sysfs file of a channel attribute when the
// context XML did not carry one, e.g. in_voltage0_hardwaregain.
func sysfsFilename(channel string, output bool, attr string) string {
	if channel == "" {
		return attr
	}
	prefix := "in"
	if output {
		prefix = "out"
	}
	return fmt.Sprintf("%s_%s_%s", prefix, channel, attr)
}

// shellQuote wraps value in single quotes, escaping embedded quotes.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
