package connection

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	rhex "github.com/rustible/rustible/infrastructure/hex"
	"github.com/rustible/rustible/infrastructure/logging"
)

var sshLogger = logging.NewFromEnv("ssh")

// SSHConfig describes how to reach one host over SSH. It deliberately
// exposes only the key-based auth path plus a host-key callback, rather
// than re-exposing the whole of ssh.ClientConfig, so callers cannot
// accidentally wire in ssh.InsecureIgnoreHostKey in production code.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	HostKeyCallback ssh.HostKeyCallback
	DialTimeout     time.Duration
}

// SSH is a Connection backed by a golang.org/x/crypto/ssh client, with one
// session opened per Execute call (matching how SSH sessions are
// one-shot: a session cannot be reused for a second command).
type SSH struct {
	cfg    SSHConfig
	client *ssh.Client
}

// DialSSH opens an SSH connection using public-key auth loaded from
// cfg.PrivateKeyPath.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSH, error) {
	keyData, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh: read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("ssh: parse private key: %w", err)
	}

	hostKeyCallback := cfg.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = trustOnFirstUseCallback(cfg.Host)
	}

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh: dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh: handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	return &SSH{cfg: cfg, client: client}, nil
}

func (s *SSH) Identifier() string {
	return fmt.Sprintf("ssh://%s@%s:%d", s.cfg.User, s.cfg.Host, portOrDefault(s.cfg.Port))
}

// trustOnFirstUseCallback accepts any host key (no verification against a
// known_hosts file) but logs its fingerprint so an operator can audit what
// key a host presented, rather than silently trusting it with no record.
// Callers that need real host-key verification should set
// SSHConfig.HostKeyCallback explicitly, e.g. to ssh.FixedHostKey or a
// knownhosts.New callback.
func trustOnFirstUseCallback(host string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		digest := sha256.Sum256(key.Marshal())
		sshLogger.WithField("host", host).
			WithField("key_type", key.Type()).
			WithField("fingerprint", rhex.EncodeToString(digest[:])).
			Warn("trusting host key on first use; no known_hosts verification configured")
		return nil
	}
}

func portOrDefault(p int) int {
	if p == 0 {
		return 22
	}
	return p
}

func (s *SSH) Execute(ctx context.Context, command string, opts ExecuteOptions) (CommandResult, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return CommandResult{}, fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()

	for k, v := range opts.Environment {
		if err := session.Setenv(k, v); err != nil {
			// Many sshd configs reject Setenv outright (AcceptEnv); fall
			// back to inlining the assignment in the command below.
			command = fmt.Sprintf("%s=%q %s", k, v, command)
		}
	}

	full := wrapEscalation(command, opts)
	if opts.WorkDir != "" {
		full = fmt.Sprintf("cd %s && %s", shellQuote(opts.WorkDir), full)
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(full) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return CommandResult{}, ctx.Err()
	case err := <-done:
		rc := 0
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				rc = exitErr.ExitStatus()
			} else {
				return CommandResult{}, err
			}
		}
		return CommandResult{
			Success: rc == 0,
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
			RC:      rc,
		}, nil
	}
}

// PutFile streams local's contents into remote over a single SSH session
// piping into `cat`, rather than requiring a separate SFTP subsystem.
func (s *SSH) PutFile(ctx context.Context, local, remote string, opts ExecuteOptions) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("ssh: read local file %s: %w", local, err)
	}

	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}

	command := fmt.Sprintf("cat > %s", shellQuote(remote))
	if err := session.Start(wrapEscalation(command, opts)); err != nil {
		return fmt.Errorf("ssh: start put_file: %w", err)
	}
	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("ssh: write put_file payload: %w", err)
	}
	if err := stdin.Close(); err != nil {
		return err
	}
	return session.Wait()
}

// FetchFile pulls remote's contents by running `cat` and capturing stdout.
func (s *SSH) FetchFile(ctx context.Context, remote, local string, opts ExecuteOptions) error {
	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	command := fmt.Sprintf("cat %s", shellQuote(remote))
	if err := session.Run(wrapEscalation(command, opts)); err != nil {
		return fmt.Errorf("ssh: fetch_file: %w", err)
	}
	return os.WriteFile(local, stdout.Bytes(), 0o644)
}

func (s *SSH) Close() error {
	return s.client.Close()
}
