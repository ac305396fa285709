// Package transfer exposes connection-scoped SFTP operations: upload,
// download, and remote directory listings.
package transfer

import (
	"log/slog"

	"github.com/treykane/sshmux/internal/model"
	"github.com/treykane/sshmux/internal/pool"
)

// Connections is the slice of the connection pool the transfer service uses.
type Connections interface {
	ActiveTransport(name string) (pool.Transport, func(), error)
}

// Service runs file transfers over pooled transports.
type Service struct {
	pool Connections
}

func NewService(conns Connections) *Service {
	return &Service{pool: conns}
}

// Upload copies a local file to the remote host.
func (s *Service) Upload(connection, localPath, remotePath string) (model.TransferResult, error) {
	tr, done, err := s.pool.ActiveTransport(connection)
	if err != nil {
		return model.TransferResult{}, err
	}
	defer done()

	n, err := tr.Upload(localPath, remotePath)
	if err != nil {
		return model.TransferResult{}, err
	}
	slog.Info("file uploaded", "connection", connection, "remote", remotePath, "bytes", n)
	return model.TransferResult{
		Connection: connection,
		Direction:  model.TransferUpload,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      n,
	}, nil
}

// Download copies a remote file to the local filesystem.
func (s *Service) Download(connection, remotePath, localPath string) (model.TransferResult, error) {
	tr, done, err := s.pool.ActiveTransport(connection)
	if err != nil {
		return model.TransferResult{}, err
	}
	defer done()

	n, err := tr.Download(remotePath, localPath)
	if err != nil {
		return model.TransferResult{}, err
	}
	slog.Info("file downloaded", "connection", connection, "remote", remotePath, "bytes", n)
	return model.TransferResult{
		Connection: connection,
		Direction:  model.TransferDownload,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      n,
	}, nil
}

// ListDir lists a remote directory. With detailed false only names are
// populated.
func (s *Service) ListDir(connection, path string, detailed bool) ([]model.FileEntry, error) {
	tr, done, err := s.pool.ActiveTransport(connection)
	if err != nil {
		return nil, err
	}
	defer done()

	entries, err := tr.ListDir(path)
	if err != nil {
		return nil, err
	}
	if !detailed {
		for i := range entries {
			entries[i] = model.FileEntry{Name: entries[i].Name, Type: entries[i].Type}
		}
	}
	return entries, nil
}
