// Package file provides a stream.Provider for local files (file:// URLs).
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/internal/telemetry"
	"github.com/marmos91/kioaccess/pkg/provider/rangejob"
	"github.com/marmos91/kioaccess/pkg/stream"
)

// Scheme is the URL scheme served by this provider.
const Scheme = "file"

// Config holds configuration for the file provider.
type Config struct {
	// Root confines URL paths to a directory. Paths are resolved relative to
	// it and cannot escape it. Empty means the whole filesystem.
	Root string
}

// Provider opens local files.
type Provider struct {
	root string
	opts rangejob.Options
}

// New creates a file provider. A nil metrics disables fetch metrics.
func New(cfg Config, m rangejob.Metrics) (*Provider, error) {
	root := cfg.Root
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve root: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, errors.New("root is not a directory")
		}
		root = abs
	}

	return &Provider{
		root: root,
		opts: rangejob.Options{Name: Scheme, Metrics: m},
	}, nil
}

func (p *Provider) Name() string { return Scheme }

// CanOpen reports whether u names an existing regular file.
func (p *Provider) CanOpen(u *url.URL) bool {
	if u == nil || u.Scheme != Scheme {
		return false
	}
	name, ok := p.resolve(u)
	if !ok {
		return false
	}
	info, err := os.Stat(name)
	return err == nil && info.Mode().IsRegular()
}

// OpenJob starts a job reading the file named by u.
func (p *Provider) OpenJob(u *url.URL, loop stream.Loop, events stream.Events) (stream.Job, error) {
	name, ok := p.resolve(u)
	if !ok {
		return nil, stream.NewJobError(int(syscall.ENOENT), "invalid file URL", nil)
	}
	return rangejob.Start(&source{name: name}, loop, events, p.opts), nil
}

// resolve maps u to a local path. file:///abs, file://localhost/abs,
// file://rel/path and file:rel are all accepted.
func (p *Provider) resolve(u *url.URL) (string, bool) {
	var name string
	switch {
	case u.Opaque != "":
		name = u.Opaque
	case u.Host == "" || u.Host == "localhost":
		name = u.Path
	default:
		name = u.Host + u.Path
	}
	if name == "" {
		return "", false
	}

	if p.root == "" {
		return filepath.FromSlash(name), true
	}
	// Cleaning against "/" drops any leading "..".
	return filepath.Join(p.root, filepath.FromSlash(path.Clean("/"+name))), true
}

// source reads one file. The handle is opened by Stat and shared by every
// body; bodies are section readers and need no closing of their own.
type source struct {
	name string
	f    *os.File
	size int64
}

func (s *source) Stat(ctx context.Context) (stream.JobInfo, error) {
	ctx, span := telemetry.StartProviderSpan(ctx, telemetry.SpanFileOpen, telemetry.FilePath(s.name))
	defer span.End()

	f, err := os.Open(s.name)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return stream.JobInfo{}, jobError(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		telemetry.RecordError(ctx, err)
		return stream.JobInfo{}, jobError(err)
	}
	if info.IsDir() {
		_ = f.Close()
		return stream.JobInfo{}, stream.NewJobError(int(syscall.EISDIR), "is a directory", nil)
	}

	adviseSequential(f)
	s.f = f
	s.size = info.Size()
	telemetry.SetAttributes(ctx, telemetry.Size(s.size))

	logger.DebugCtx(ctx, "File opened", logger.KeyURL, s.name, logger.KeySize, s.size)
	return stream.JobInfo{
		Size:        s.size,
		ContentType: mime.TypeByExtension(filepath.Ext(s.name)),
	}, nil
}

func (s *source) OpenAt(ctx context.Context, offset uint64) (io.ReadCloser, error) {
	if s.f == nil {
		return nil, os.ErrClosed
	}
	if offset >= uint64(s.size) {
		return nil, io.EOF
	}
	return io.NopCloser(io.NewSectionReader(s.f, int64(offset), s.size-int64(offset))), nil
}

func (s *source) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// jobError carries the errno of a failed file operation as the job error code.
func jobError(err error) error {
	code := 0
	var errno syscall.Errno
	if errors.As(err, &errno) {
		code = int(errno)
	}
	msg := "file error"
	switch {
	case errors.Is(err, fs.ErrNotExist):
		msg = "file not found"
	case errors.Is(err, fs.ErrPermission):
		msg = "permission denied"
	}
	return stream.NewJobError(code, msg, err)
}
