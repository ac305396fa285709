package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
	"github.com/treykane/sshmux/internal/pool"
)

type fakeTransport struct {
	uploadN   int64
	uploadErr error
	entries   []model.FileEntry
}

func (t *fakeTransport) Upload(local, remote string) (int64, error) {
	return t.uploadN, t.uploadErr
}
func (t *fakeTransport) Download(remote, local string) (int64, error) {
	return t.uploadN, t.uploadErr
}
func (t *fakeTransport) ListDir(string) ([]model.FileEntry, error) { return t.entries, nil }

func (t *fakeTransport) Exec(context.Context, string, time.Duration) (model.CommandResult, error) {
	return model.CommandResult{}, errors.New("not implemented")
}
func (t *fakeTransport) OpenShell(string, int) (pool.ShellChannel, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTransport) Probe() error     { return nil }
func (t *fakeTransport) Keepalive() error { return nil }
func (t *fakeTransport) Channels() int    { return 0 }
func (t *fakeTransport) Close() error     { return nil }

type fakeConns struct {
	tr       pool.Transport
	err      error
	released int
}

func (c *fakeConns) ActiveTransport(string) (pool.Transport, func(), error) {
	if c.err != nil {
		return nil, nil, c.err
	}
	return c.tr, func() { c.released++ }, nil
}

func TestUploadReportsBytes(t *testing.T) {
	conns := &fakeConns{tr: &fakeTransport{uploadN: 2048}}
	s := NewService(conns)

	res, err := s.Upload("web", "/tmp/app.tar", "/srv/app.tar")
	if err != nil {
		t.Fatal(err)
	}
	if res.Direction != model.TransferUpload || res.Bytes != 2048 || res.Connection != "web" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if conns.released != 1 {
		t.Fatal("transport borrow not released")
	}
}

func TestDownloadPropagatesRemoteFault(t *testing.T) {
	conns := &fakeConns{tr: &fakeTransport{uploadErr: fault.New(fault.RemoteIO, "open failed")}}
	s := NewService(conns)

	_, err := s.Download("web", "/etc/shadow", "/tmp/shadow")
	if !fault.IsKind(err, fault.RemoteIO) {
		t.Fatalf("expected RemoteIO, got %v", err)
	}
	if conns.released != 1 {
		t.Fatal("transport borrow not released on error")
	}
}

func TestTransferRequiresLiveConnection(t *testing.T) {
	conns := &fakeConns{err: fault.New(fault.ConnectionUnavailable, "transport is dead")}
	s := NewService(conns)

	if _, err := s.Upload("web", "a", "b"); !fault.IsKind(err, fault.ConnectionUnavailable) {
		t.Fatalf("expected ConnectionUnavailable, got %v", err)
	}
}

func TestListDirDetailToggle(t *testing.T) {
	now := time.Now()
	conns := &fakeConns{tr: &fakeTransport{entries: []model.FileEntry{
		{Name: "app.log", Type: "file", Size: 4096, Permissions: "644", Modified: now},
		{Name: "conf.d", Type: "directory", Size: 0, Permissions: "755", Modified: now},
	}}}
	s := NewService(conns)

	detailed, err := s.ListDir("web", "/etc", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(detailed) != 2 || detailed[0].Size != 4096 || detailed[1].Permissions != "755" {
		t.Fatalf("unexpected detailed listing: %+v", detailed)
	}

	plain, err := s.ListDir("web", "/etc", false)
	if err != nil {
		t.Fatal(err)
	}
	if plain[0].Name != "app.log" || plain[0].Type != "file" {
		t.Fatalf("unexpected plain listing: %+v", plain)
	}
	if plain[0].Size != 0 || plain[0].Permissions != "" || !plain[0].Modified.IsZero() {
		t.Fatalf("plain listing leaked details: %+v", plain[0])
	}
}
