package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/parlorlabs/exhibit/client"
)

const (
	DefaultPrefix   = "ai-or-not"
	defaultCacheTTL = 15 * time.Second

	manifestFilename    = "manifest.json"
	manifestContentType = "application/json"
)

var (
	ErrImageNotFound = errors.New("image not found")

	// ErrUnavailable distinguishes "storage is unreachable or returned
	// garbage" from "manifest genuinely absent"; the strict fetch path
	// surfaces it, the lenient one swallows it.
	ErrUnavailable = errors.New("storage unavailable")
)

// Image is one manifest record. Filename is empty for remote-linked entries
// that were never uploaded to the store. ID and CreatedAt are immutable once
// written; IsAI and Source may be edited in place.
type Image struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	IsAI      bool   `json:"isAI"`
	Source    string `json:"source"`
	CreatedAt string `json:"createdAt"`
}

// Manifest is the single JSON document acting as the image database. Every
// write is a full-document overwrite; the last writer wins. Timestamps stay
// strings so stored documents round-trip byte for byte.
type Manifest struct {
	Images    []Image `json:"images"`
	UpdatedAt string  `json:"updatedAt"`
}

// ObjectAPI is the slice of the object store client the gallery needs.
type ObjectAPI interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
	ObjectURL(key string) string
}

// Store layers manifest semantics over blob storage: a read-modify-write
// JSON document indexing uploaded images. Not safe for concurrent multi-admin
// editing; there is no optimistic concurrency check by design.
type Store struct {
	objects ObjectAPI
	logger  *slog.Logger
	prefix  string
	cache   *ttlcache.Cache[string, Manifest]
	now     func() time.Time
}

type Option func(*Store)

// WithPrefix namespaces the manifest and image keys per feature.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithCacheTTL bounds how long a fetched manifest is served from memory.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = newManifestCache(ttl)
	}
}

// WithClock replaces the timestamp source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func newManifestCache(ttl time.Duration) *ttlcache.Cache[string, Manifest] {
	return ttlcache.New(
		ttlcache.WithTTL[string, Manifest](ttl),
		ttlcache.WithDisableTouchOnHit[string, Manifest](),
	)
}

func NewStore(objects ObjectAPI, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		objects: objects,
		logger:  logger.WithGroup("gallery"),
		prefix:  DefaultPrefix,
		cache:   newManifestCache(defaultCacheTTL),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cache.Start()
	return s
}

func (s *Store) manifestKey() string {
	return s.prefix + "/" + manifestFilename
}

// ImageKey is the storage key an uploaded filename lands under.
func (s *Store) ImageKey(filename string) string {
	return s.prefix + "/images/" + filename
}

func (s *Store) emptyManifest() Manifest {
	return Manifest{Images: []Image{}, UpdatedAt: Timestamp(s.now())}
}

// FetchManifestStrict reads the manifest, distinguishing the two failure
// families: an absent manifest (not yet initialized) is normalized to an
// empty one with a nil error, while transport failures and undecodable
// documents surface as ErrUnavailable.
func (s *Store) FetchManifestStrict(ctx context.Context) (Manifest, error) {
	if item := s.cache.Get(s.manifestKey()); item != nil {
		return item.Value(), nil
	}

	data, err := s.objects.GetObject(ctx, s.manifestKey())
	if err != nil {
		if errors.Is(err, client.ErrObjectNotFound) {
			s.logger.Debug("manifest not yet created, defaulting to empty")
			return s.emptyManifest(), nil
		}
		return Manifest{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Error("stored manifest is not valid JSON", "key", s.manifestKey(), "error", err)
		return Manifest{}, fmt.Errorf("%w: undecodable manifest: %v", ErrUnavailable, err)
	}
	if m.Images == nil {
		m.Images = []Image{}
	}

	s.cache.Set(s.manifestKey(), m, ttlcache.DefaultTTL)
	return m, nil
}

// FetchManifest is the availability-biased read: any failure is logged and
// collapsed into an empty manifest. Callers that need to tell "empty" apart
// from "degraded" use FetchManifestStrict instead.
func (s *Store) FetchManifest(ctx context.Context) Manifest {
	m, err := s.FetchManifestStrict(ctx)
	if err != nil {
		s.logger.Warn("manifest fetch degraded, serving empty manifest", "error", err)
		return s.emptyManifest()
	}
	return m
}

// SaveManifest stamps UpdatedAt and overwrites the stored document in full.
// There is no merge and no If-Match; a concurrent writer is silently
// clobbered, which is accepted for the single-admin write pattern.
func (s *Store) SaveManifest(ctx context.Context, m Manifest) error {
	m.UpdatedAt = Timestamp(s.now())
	if m.Images == nil {
		m.Images = []Image{}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := s.objects.PutObject(ctx, s.manifestKey(), data, manifestContentType); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}

	s.cache.Set(s.manifestKey(), m, ttlcache.DefaultTTL)
	return nil
}

// Invalidate drops the cached manifest so the next read hits storage.
func (s *Store) Invalidate() {
	s.cache.Delete(s.manifestKey())
}

// UploadImage stores raw bytes under the image namespace and returns the
// publicly resolvable URL. Re-uploading the same filename overwrites the same
// key, which is the intended idempotency for retried uploads.
func (s *Store) UploadImage(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	return s.UploadImageToKey(ctx, s.ImageKey(filename), data, contentType)
}

// UploadImageToKey stores raw bytes under a caller-supplied key, for the
// alternate namespaces (rank badges, exhibits).
func (s *Store) UploadImageToKey(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := s.objects.PutObject(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("failed to upload '%s': %w", key, err)
	}
	return s.objects.ObjectURL(key), nil
}

// DeleteImage removes the stored blob for filename. A 404 here is an ordinary
// failure: the caller decides whether it matters.
func (s *Store) DeleteImage(ctx context.Context, filename string) error {
	if err := s.objects.DeleteObject(ctx, s.ImageKey(filename)); err != nil {
		return fmt.Errorf("failed to delete '%s': %w", filename, err)
	}
	return nil
}

// AddImage uploads the blob first and only then records a manifest entry, so
// a failed upload can never leave an entry pointing at a missing blob.
func (s *Store) AddImage(ctx context.Context, data []byte, filename, contentType string, isAI bool, source string) (Image, error) {
	url, err := s.UploadImage(ctx, data, filename, contentType)
	if err != nil {
		return Image{}, err
	}

	img := Image{
		ID:        NewImageID(),
		Filename:  filename,
		URL:       url,
		IsAI:      isAI,
		Source:    source,
		CreatedAt: Timestamp(s.now()),
	}
	if err := s.appendImage(ctx, img); err != nil {
		return Image{}, err
	}
	return img, nil
}

// AddRemoteImage records a manifest entry for an externally hosted URL.
// Nothing is uploaded; Filename stays empty to mark the entry remote-linked.
func (s *Store) AddRemoteImage(ctx context.Context, url string, isAI bool, source string) (Image, error) {
	img := Image{
		ID:        NewImageID(),
		URL:       url,
		IsAI:      isAI,
		Source:    source,
		CreatedAt: Timestamp(s.now()),
	}
	if err := s.appendImage(ctx, img); err != nil {
		return Image{}, err
	}
	return img, nil
}

func (s *Store) appendImage(ctx context.Context, img Image) error {
	m, err := s.FetchManifestStrict(ctx)
	if err != nil {
		// Writing through a degraded read would clobber every existing
		// entry with a single-image manifest. Refuse instead.
		return fmt.Errorf("refusing to append through degraded manifest read: %w", err)
	}
	m.Images = append(m.Images, img)
	return s.SaveManifest(ctx, m)
}

// RemoveImage deletes an entry by id. The owned blob is deleted first,
// best-effort: a failed blob delete is logged and the manifest entry is
// removed regardless, trading an orphaned blob for a manageable manifest.
func (s *Store) RemoveImage(ctx context.Context, id string) error {
	s.Invalidate()

	m, err := s.FetchManifestStrict(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i, img := range m.Images {
		if img.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrImageNotFound
	}

	if filename := m.Images[idx].Filename; filename != "" {
		if err := s.DeleteImage(ctx, filename); err != nil {
			s.logger.Warn("blob delete failed, removing manifest entry anyway (orphan risk)",
				"id", id, "filename", filename, "error", err)
		}
	}

	m.Images = append(m.Images[:idx:idx], m.Images[idx+1:]...)
	return s.SaveManifest(ctx, m)
}

// Timestamp renders t in the manifest's on-wire format.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
