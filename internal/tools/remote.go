package tools

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const remoteExecTimeout = 30 * time.Second

// VPS executes a command on the configured remote host over SSH.
type VPS struct {
	addr    string
	user    string
	keyFile string
}

// NewVPS creates the remote executor. addr is host:port.
func NewVPS(addr, user, keyFile string) *VPS {
	return &VPS{addr: addr, user: user, keyFile: keyFile}
}

func (v *VPS) Name() string           { return "vps" }
func (v *VPS) Aliases() []string      { return []string{"ssh"} }
func (v *VPS) Timeout() time.Duration { return remoteExecTimeout }

func (v *VPS) Execute(ctx context.Context, params string) (any, error) {
	command := strings.TrimSpace(params)
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if v.addr == "" {
		return nil, fmt.Errorf("remote execution is not configured")
	}

	key, err := os.ReadFile(v.keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            v.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", v.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", v.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, v.addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	result := execResult{}
	if err := session.Run(command); err != nil {
		exitErr, ok := err.(*ssh.ExitError)
		if !ok {
			return nil, fmt.Errorf("run remote command: %w", err)
		}
		result.ExitCode = exitErr.ExitStatus()
	}
	result.Stdout = clip(stdout.String())
	result.Stderr = clip(stderr.String())
	return result, nil
}
