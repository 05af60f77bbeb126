package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/onkernel/iconograph/lib/images"
	"github.com/onkernel/iconograph/lib/logger"
)

const manifestName = "manifest.json"

// Config configures a Fetcher
type Config struct {
	// BaseURL is the image root, e.g. https://server/image. The image type is
	// appended per request.
	BaseURL string
	Client  *http.Client
}

// Fetcher downloads published images into a local store
type Fetcher struct {
	baseURL string
	client  *http.Client
	store   *images.Store
}

// NewFetcher creates a fetcher installing into store
func NewFetcher(cfg Config, store *images.Store) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &Fetcher{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  cfg.Client,
		store:   store,
	}
}

func (f *Fetcher) url(imageType, name string) string {
	return f.baseURL + "/" + imageType + "/" + name
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: get %s: %s: %s", ErrUnexpectedStatus, url, resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// Manifest retrieves the published manifest for imageType
func (f *Fetcher) Manifest(ctx context.Context, imageType string) (*Manifest, error) {
	resp, err := f.get(ctx, f.url(imageType, manifestName))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Fetch installs the image with the given timestamp, or the latest published
// image when timestamp is nil, and makes it the next-boot image.
func (f *Fetcher) Fetch(ctx context.Context, imageType string, timestamp *int64) (*images.Image, error) {
	log := logger.FromContext(ctx)

	m, err := f.Manifest(ctx, imageType)
	if err != nil {
		return nil, err
	}

	var entry ImageEntry
	if timestamp != nil {
		entry, err = m.Find(*timestamp)
	} else {
		entry, err = m.Latest()
	}
	if err != nil {
		return nil, err
	}

	img, err := f.store.Get(ctx, entry.Timestamp)
	switch {
	case err == nil:
		log.DebugContext(ctx, "image already installed", "timestamp", entry.Timestamp)
	case errors.Is(err, images.ErrNotFound):
		img, err = f.download(ctx, imageType, entry)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := f.store.SetCurrent(ctx, img.Timestamp); err != nil {
		return nil, fmt.Errorf("set current image: %w", err)
	}
	return img, nil
}

func (f *Fetcher) download(ctx context.Context, imageType string, entry ImageEntry) (*images.Image, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	url := f.url(imageType, images.FilenameFor(entry.Timestamp))

	want, err := entry.Digest()
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "downloading image", "url", url, "timestamp", entry.Timestamp)
	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body := &verifyingReader{r: resp.Body, h: sha256.New(), want: want}
	img, err := f.store.Install(ctx, entry.Timestamp, body)
	if errors.Is(err, images.ErrAlreadyExists) {
		return f.store.Get(ctx, entry.Timestamp)
	}
	if err != nil {
		return nil, fmt.Errorf("install image %d: %w", entry.Timestamp, err)
	}

	if img.VolumeID == "" || (entry.VolumeID != "" && img.VolumeID != entry.VolumeID) {
		mismatch := fmt.Errorf("%w: image %d has %q, manifest has %q", ErrVolumeIDMismatch, img.Timestamp, img.VolumeID, entry.VolumeID)
		if err := f.store.Remove(ctx, img.Timestamp); err != nil {
			return nil, errors.Join(mismatch, fmt.Errorf("remove rejected image: %w", err))
		}
		return nil, mismatch
	}
	log.InfoContext(ctx, "image downloaded",
		"timestamp", img.Timestamp,
		"size", datasize.ByteSize(img.SizeBytes).HR(),
		"duration", time.Since(start))
	return img, nil
}

// DeleteOldImages removes every installed image except those in skip and the
// booted and next-boot images.
func (f *Fetcher) DeleteOldImages(ctx context.Context, skip images.RetainSet) ([]images.Image, error) {
	retain := images.NewRetainSet(skip.Sorted()...)
	active, err := f.store.Active(ctx)
	if err != nil {
		return nil, err
	}
	for _, ts := range active {
		retain.Add(ts)
	}

	return f.store.Prune(ctx, retain)
}

// verifyingReader hashes everything read and fails at EOF on a digest mismatch
type verifyingReader struct {
	r    io.Reader
	h    hash.Hash
	want []byte
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	v.h.Write(p[:n])
	if err == io.EOF {
		if got := v.h.Sum(nil); !bytes.Equal(got, v.want) {
			return n, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, hex.EncodeToString(got), hex.EncodeToString(v.want))
		}
	}
	return n, err
}
