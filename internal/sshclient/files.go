package sshclient

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/sftp"
	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
)

// sftpClient returns the transport's SFTP channel, opening it on first use.
func (t *Transport) sftpClient() (*sftp.Client, error) {
	t.chanMu.Lock()
	defer t.chanMu.Unlock()
	if t.files != nil {
		return t.files, nil
	}
	c, err := sftp.NewClient(t.client)
	if err != nil {
		return nil, fault.Wrap(fault.ConnectionUnavailable, err, "open sftp channel")
	}
	t.files = c
	return c, nil
}

// Upload copies a local file to the remote host and returns bytes written.
// Local failures classify as IO, remote failures as RemoteIO.
func (t *Transport) Upload(localPath, remotePath string) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, fault.Wrap(fault.IO, err, "open local file %s", localPath)
	}
	defer src.Close()

	c, err := t.sftpClient()
	if err != nil {
		return 0, err
	}
	t.channels.Add(1)
	defer t.channels.Add(-1)

	dst, err := c.Create(remotePath)
	if err != nil {
		return 0, fault.Wrap(fault.RemoteIO, err, "create remote file %s", remotePath)
	}
	n, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err != nil {
		return n, fault.Wrap(fault.RemoteIO, err, "write remote file %s", remotePath)
	}
	if closeErr != nil {
		return n, fault.Wrap(fault.RemoteIO, closeErr, "close remote file %s", remotePath)
	}
	return n, nil
}

// Download copies a remote file to the local host and returns bytes written.
func (t *Transport) Download(remotePath, localPath string) (int64, error) {
	c, err := t.sftpClient()
	if err != nil {
		return 0, err
	}
	t.channels.Add(1)
	defer t.channels.Add(-1)

	src, err := c.Open(remotePath)
	if err != nil {
		return 0, fault.Wrap(fault.RemoteIO, err, "open remote file %s", remotePath)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return 0, fault.Wrap(fault.IO, err, "create local file %s", localPath)
	}
	n, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err != nil {
		return n, fault.Wrap(fault.IO, err, "write local file %s", localPath)
	}
	if closeErr != nil {
		return n, fault.Wrap(fault.IO, closeErr, "close local file %s", localPath)
	}
	return n, nil
}

// ListDir lists a remote directory's entries.
func (t *Transport) ListDir(path string) ([]model.FileEntry, error) {
	c, err := t.sftpClient()
	if err != nil {
		return nil, err
	}
	t.channels.Add(1)
	defer t.channels.Add(-1)

	infos, err := c.ReadDir(path)
	if err != nil {
		return nil, fault.Wrap(fault.RemoteIO, err, "list %s", path)
	}
	out := make([]model.FileEntry, 0, len(infos))
	for _, fi := range infos {
		kind := "file"
		switch {
		case fi.IsDir():
			kind = "directory"
		case fi.Mode()&os.ModeSymlink != 0:
			kind = "symlink"
		}
		out = append(out, model.FileEntry{
			Name:        fi.Name(),
			Type:        kind,
			Size:        fi.Size(),
			Permissions: fmt.Sprintf("%03o", fi.Mode().Perm()),
			Modified:    fi.ModTime(),
		})
	}
	return out, nil
}
