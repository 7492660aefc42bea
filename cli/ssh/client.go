package ssh

// Package ssh provides SSH multiplexing and remote command execution for
// cargorun. It manages a persistent master connection per target, stages
// test binaries, and runs remote commands with bounded wall-clock time.

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

// Client manages an SSH connection to a specific remote host.
type Client struct {
	logger         zerolog.Logger
	host           string
	port           int
	controlPath    string
	identityFile   string
	knownHostsFile string
	extraOptions   []string
}

// Option is a function that configures an SSH client.
type Option func(*Client)

// WithPort sets a non-default SSH port, used for VM targets that forward
// their guest port to localhost.
func WithPort(port int) Option {
	return func(c *Client) {
		c.port = port
	}
}

// WithIdentityFile sets the identity file (private key) to use for authentication.
func WithIdentityFile(path string) Option {
	return func(c *Client) {
		c.identityFile = path
	}
}

// WithKnownHostsFile sets the known hosts file to use for host verification.
func WithKnownHostsFile(path string) Option {
	return func(c *Client) {
		c.knownHostsFile = path
	}
}

// WithExtraOptions adds extra SSH options to the connection.
func WithExtraOptions(options ...string) Option {
	return func(c *Client) {
		c.extraOptions = append(c.extraOptions, options...)
	}
}

// New creates a new SSH client and establishes a multiplexed connection to the host.
func New(logger zerolog.Logger, host string, opts ...Option) (*Client, error) {
	c := &Client{
		logger: logger,
		host:   host,
	}

	for _, opt := range opts {
		opt(c)
	}

	controlPath, err := c.setupMultiplexing()
	if err != nil {
		return nil, fmt.Errorf("failed to setup SSH multiplexing: %w", err)
	}
	c.controlPath = controlPath

	return c, nil
}

// Close closes the SSH connection and cleans up the control socket.
func (c *Client) Close() {
	c.logger.Debug().Str("controlPath", c.controlPath).Msg("Cleaning up SSH multiplexing")

	args := []string{
		"-o", fmt.Sprintf("ControlPath=%s", c.controlPath),
		"-O", "exit",
		c.host,
	}
	cmd := exec.Command("ssh", args...)
	_ = cmd.Run() // Ignore errors on cleanup

	_ = os.Remove(c.controlPath)
}

// Host returns the remote host this client is connected to.
func (c *Client) Host() string {
	return c.host
}

// RunCommand executes a command on the remote host and returns its stdout.
func (c *Client) RunCommand(command string) (string, error) {
	args := c.buildArgs(false)
	args = append(args, c.host, command)

	cmd := exec.Command("ssh", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("host", c.host).
		Str("command", command).
		Msg("Running remote command")

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command failed: %w (stderr: %s)", err, stderr.String())
	}

	return stdout.String(), nil
}

// Exec runs a command on the remote host until it exits or ctx expires,
// returning the exit code and combined stdout/stderr. Output captured before
// a cancellation is preserved. The ssh process propagates the remote exit
// status, so a failing test binary surfaces here as a non-zero code rather
// than an error.
func (c *Client) Exec(ctx context.Context, command string) (int, string, error) {
	args := c.buildArgs(false)
	args = append(args, "-T", c.host, command)

	cmd := exec.CommandContext(ctx, "ssh", args...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	c.logger.Debug().
		Str("host", c.host).
		Str("command", command).
		Msg("Executing remote command")

	err := cmd.Run()
	if err == nil {
		return 0, output.String(), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), output.String(), nil
	}
	return -1, output.String(), fmt.Errorf("failed to execute remote command: %w", err)
}

// StageFiles copies local files into remoteDir on the host and makes them
// executable.
func (c *Client) StageFiles(paths []string, remoteDir string) error {
	if len(paths) == 0 {
		return nil
	}

	mkdirCmd := fmt.Sprintf("mkdir -p %s", remoteDir)
	if _, err := c.RunCommand(mkdirCmd); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	args := c.buildArgs(true)
	args = append(args, paths...)
	args = append(args, fmt.Sprintf("%s:%s/", c.host, remoteDir))
	cmd := exec.Command("scp", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("command", cmd.String()).
		Msg("Executing scp")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to copy files: %w (stderr: %s)", err, stderr.String())
	}

	chmodCmd := "chmod +x"
	for _, p := range paths {
		chmodCmd += " " + filepath.Join(remoteDir, filepath.Base(p))
	}
	if _, err := c.RunCommand(chmodCmd); err != nil {
		return fmt.Errorf("failed to make binaries executable: %w", err)
	}

	c.logger.Debug().
		Int("count", len(paths)).
		Str("dir", remoteDir).
		Msg("Files staged on target")
	return nil
}

// buildArgs constructs the common ssh/scp arguments with all configured
// options. scp spells the port flag -P where ssh uses -p.
func (c *Client) buildArgs(scp bool) []string {
	args := []string{}

	if c.controlPath != "" {
		args = append(args,
			"-o", fmt.Sprintf("ControlPath=%s", c.controlPath),
			"-o", "ControlMaster=no",
		)
	}

	if c.port != 0 {
		portFlag := "-p"
		if scp {
			portFlag = "-P"
		}
		args = append(args, portFlag, strconv.Itoa(c.port))
	}

	if c.identityFile != "" {
		args = append(args, "-i", c.identityFile)
	}

	if c.knownHostsFile != "" {
		args = append(args, "-o", fmt.Sprintf("UserKnownHostsFile=%s", c.knownHostsFile))
	}

	for _, opt := range c.extraOptions {
		args = append(args, "-o", opt)
	}

	return args
}

// setupMultiplexing establishes an SSH master connection for multiplexing.
func (c *Client) setupMultiplexing() (string, error) {
	controlDir := c.getControlSocketDir()

	if err := os.MkdirAll(controlDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create control directory: %w", err)
	}

	// Hash host and port to stay under the Unix socket path length limit
	// (typically 104-108 chars).
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", c.host, c.port)))
	hostHash := hex.EncodeToString(hash[:])[:12]

	socketName := fmt.Sprintf("ssh-%s", hostHash)
	controlPath := filepath.Join(controlDir, socketName)

	c.logger.Debug().
		Str("host", c.host).
		Str("controlPath", controlPath).
		Msg("Setting up SSH multiplexing")

	args := []string{
		"-o", "ControlMaster=auto",
		"-o", fmt.Sprintf("ControlPath=%s", controlPath),
		"-o", "ControlPersist=30s",
		"-o", "ConnectTimeout=10",
		"-o", "ServerAliveInterval=15",
		"-o", "ServerAliveCountMax=3",
	}

	if c.port != 0 {
		args = append(args, "-p", strconv.Itoa(c.port))
	}

	if c.identityFile != "" {
		args = append(args, "-i", c.identityFile)
	}

	if c.knownHostsFile != "" {
		args = append(args, "-o", fmt.Sprintf("UserKnownHostsFile=%s", c.knownHostsFile))
	}

	for _, opt := range c.extraOptions {
		args = append(args, "-o", opt)
	}

	args = append(args,
		"-f", // Run in background
		"-N", // Don't execute a remote command
		c.host,
	)

	cmd := exec.Command("ssh", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to establish SSH master connection: %w (stderr: %s)", err, stderr.String())
	}

	c.logger.Debug().Str("host", c.host).Msg("SSH master connection established")
	return controlPath, nil
}

// getControlSocketDir returns the directory to use for SSH control sockets.
func (c *Client) getControlSocketDir() string {
	// Prefer XDG_RUNTIME_DIR, keeping the path short for the socket limit.
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "cargorun")
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home := os.Getenv("HOME"); home != "" {
			configHome = filepath.Join(home, ".config")
		}
	}

	if configHome != "" {
		return filepath.Join(configHome, "cargorun")
	}

	return filepath.Join(os.TempDir(), "cargorun")
}
