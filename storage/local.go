// Package storage keeps input and output documents on the local filesystem.
// Each blob is stored under a generated key; names and types live on the job
// record, not on disk.
package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
)

// MaxBlobSize caps a single stored document
const MaxBlobSize = 50 << 20

// Local stores blobs as files in one directory
type Local struct {
	dir string
}

// NewLocal creates dir if needed and returns a store over it
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if err := os.MkdirAll(dir, perm); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage directory %s", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve storage directory %s", dir)
	}
	return &Local{dir: abs}, nil
}

// Dir returns the absolute storage directory
func (l *Local) Dir() string {
	return l.dir
}

// Put copies r into a new blob. It rejects types jobs cannot use.
func (l *Local) Put(ctx context.Context, name, mimeType string, r io.Reader) (job.FileRef, error) {
	if !job.IsAcceptedType(mimeType) {
		return job.FileRef{}, errors.NewInvalidRequestError("unsupported document type %q", mimeType)
	}
	if err := ctx.Err(); err != nil {
		return job.FileRef{}, err
	}

	key := uuid.NewString()
	path := filepath.Join(l.dir, key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return job.FileRef{}, errors.Wrapf(err, "failed to create blob %s", key)
	}

	n, err := io.Copy(f, io.LimitReader(r, MaxBlobSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxBlobSize {
		err = errors.NewInvalidRequestError("document larger than %d bytes", MaxBlobSize)
	}
	if err != nil {
		os.Remove(path)
		return job.FileRef{}, errors.Wrapf(err, "failed to write blob %s", key)
	}

	return job.FileRef{Key: key, Name: filepath.Base(name), MIMEType: job.BaseType(mimeType)}, nil
}

// Write stores data as a new blob
func (l *Local) Write(ctx context.Context, name, mimeType string, data []byte) (job.FileRef, error) {
	return l.Put(ctx, name, mimeType, bytes.NewReader(data))
}

// Open returns the blob for streaming. The caller closes it.
func (l *Local) Open(key string) (*os.File, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.WithDetail(errors.NewNotFoundError("blob not found: %s", key), "Storage dir: "+l.dir)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open blob %s", key)
	}
	return f, nil
}

// Read returns the blob's contents
func (l *Local) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := l.Open(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read blob %s", key)
	}
	return data, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (l *Local) Delete(key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete blob %s", key)
	}
	return nil
}

// keys are always generated uuids; anything else could escape the directory
func (l *Local) path(key string) (string, error) {
	if _, err := uuid.Parse(key); err != nil {
		return "", errors.NewInvalidRequestError("invalid blob key %q", key)
	}
	return filepath.Join(l.dir, key), nil
}
