package storage

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/internal/httpclient"
	"github.com/teranos/tren/job"
)

// Fetcher resolves a local path or an http(s) URL to a document and stores
// it. Other go-getter sources (git, s3, gcs) are not enabled.
type Fetcher struct {
	store  *Local
	http   *httpclient.Client
	logger *zap.SugaredLogger
}

// NewFetcher creates a Fetcher storing into store. hc guards remote fetches.
func NewFetcher(store *Local, hc *httpclient.Client, logger *zap.SugaredLogger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Fetcher{store: store, http: hc, logger: logger}
}

// Fetch downloads src into storage. mimeType may be empty, in which case it
// is guessed from the file name.
func (f *Fetcher) Fetch(ctx context.Context, src, mimeType string) (job.FileRef, error) {
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}

	detected, err := getter.Detect(src, pwd, []getter.Detector{new(getter.FileDetector)})
	if err != nil {
		return job.FileRef{}, errors.Wrapf(err, "failed to detect source %q", src)
	}
	u, err := url.Parse(detected)
	if err != nil {
		return job.FileRef{}, errors.Wrapf(err, "failed to parse source %q", detected)
	}

	switch u.Scheme {
	case "file":
	case "http", "https":
		if _, err := f.http.CheckURL(detected); err != nil {
			return job.FileRef{}, errors.Wrapf(err, "refusing to fetch %s", detected)
		}
	default:
		return job.FileRef{}, errors.NewInvalidRequestError("unsupported source scheme %q", u.Scheme)
	}

	name := path.Base(u.Path)
	if mimeType == "" {
		mimeType = job.TypeForName(name)
	}
	if !job.IsAcceptedType(mimeType) {
		return job.FileRef{}, errors.WithHint(
			errors.NewInvalidRequestError("cannot tell an accepted document type for %q", name),
			"use a .md, .txt or .docx file, or pass the type explicitly",
		)
	}

	tmp, err := os.MkdirTemp("", "tren-fetch-*")
	if err != nil {
		return job.FileRef{}, errors.Wrap(err, "failed to create temp directory")
	}
	defer os.RemoveAll(tmp)
	dst := filepath.Join(tmp, "document")

	httpGetter := &getter.HttpGetter{Client: f.http.Client}
	client := &getter.Client{
		Ctx:  ctx,
		Src:  detected,
		Dst:  dst,
		Pwd:  pwd,
		Mode: getter.ClientModeFile,
		Getters: map[string]getter.Getter{
			"file":  &getter.FileGetter{Copy: true},
			"http":  httpGetter,
			"https": httpGetter,
		},
	}

	f.logger.Infow("Fetching document", "source", src, "detected", detected)
	if err := client.Get(); err != nil {
		return job.FileRef{}, errors.Wrapf(err, "failed to fetch %s", src)
	}

	file, err := os.Open(dst)
	if err != nil {
		return job.FileRef{}, errors.Wrap(err, "failed to open fetched document")
	}
	defer file.Close()

	ref, err := f.store.Put(ctx, name, mimeType, file)
	if err != nil {
		return job.FileRef{}, err
	}
	f.logger.Infow("Document stored", "key", ref.Key, "name", ref.Name, "mime_type", ref.MIMEType)
	return ref, nil
}
