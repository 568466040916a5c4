package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/emerald/deadside-tracker/internal/domain"
)

// File is an open remote file. Plain killfeed and log files support seeking
// to a saved cursor offset; compressed archives are read front to back.
type File interface {
	io.ReadCloser
	io.Seeker
}

// FS is the remote filesystem surface the pipeline needs from a session.
type FS interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (File, error)
	Stat(path string) (os.FileInfo, error)
	Close() error
}

// DialFunc establishes a remote filesystem connection to a target. The pool
// calls it with a context bounded by the dial timeout.
type DialFunc func(ctx context.Context, target domain.ServerTarget) (FS, error)

var noDeadline time.Time

// sftpFS wraps an SFTP subsystem over an SSH connection.
type sftpFS struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

// DialSFTP is the production DialFunc. Game hosting providers hand out
// throwaway per-server credentials, so host keys are not pinned.
func DialSFTP(ctx context.Context, target domain.ServerTarget) (FS, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target.Addr(), err)
	}

	cfg := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(target.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", target.Addr(), err)
	}
	conn.SetDeadline(noDeadline)

	client := ssh.NewClient(sshConn, chans, reqs)
	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening sftp subsystem on %s: %w", target.Addr(), err)
	}

	return &sftpFS{ssh: client, sftp: sc}, nil
}

func (f *sftpFS) ReadDir(path string) ([]os.FileInfo, error) {
	return f.sftp.ReadDir(path)
}

func (f *sftpFS) Open(path string) (File, error) {
	return f.sftp.Open(path)
}

func (f *sftpFS) Stat(path string) (os.FileInfo, error) {
	return f.sftp.Stat(path)
}

func (f *sftpFS) Close() error {
	serr := f.sftp.Close()
	if err := f.ssh.Close(); err != nil {
		return err
	}
	return serr
}
