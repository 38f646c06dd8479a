package gallery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorlabs/exhibit/client"
	"github.com/parlorlabs/exhibit/sigv4"
)

const (
	e2eBucket    = "party-assets"
	e2eAccessKey = "AKIDEXAMPLE"
	e2eSecretKey = "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"
)

// fakeBucket is an in-memory S3-compatible single-bucket store. Reads are
// public; writes and deletes must carry a valid SigV4 authorization, which is
// checked by re-deriving the signature from the request.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	signer  *sigv4.Signer
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{
		objects: make(map[string][]byte),
		signer: sigv4.NewSigner(sigv4.Credentials{
			AccessKeyID:     e2eAccessKey,
			SecretAccessKey: e2eSecretKey,
		}),
	}
}

func (b *fakeBucket) verify(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, sigv4.Algorithm+" ") {
		return false
	}

	const marker = "SignedHeaders="
	start := strings.Index(auth, marker)
	if start == -1 {
		return false
	}
	rest := auth[start+len(marker):]
	end := strings.Index(rest, ",")
	if end == -1 {
		return false
	}

	headers := make(map[string]string)
	for _, name := range strings.Split(rest[:end], ";") {
		switch name {
		case "host":
			headers[name] = r.Host
		case sigv4.HeaderAmzDate:
			// re-added by Sign from the parsed timestamp
		default:
			headers[name] = r.Header.Get(name)
		}
	}

	ts, err := time.Parse("20060102T150405Z", r.Header.Get(sigv4.HeaderAmzDate))
	if err != nil {
		return false
	}

	expect := b.signer.Sign(r.Method, r.URL.Path, headers, ts)
	return expect[sigv4.HeaderAuthorization] == auth
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, ok := strings.CutPrefix(r.URL.Path, "/"+e2eBucket+"/")
	if !ok {
		http.Error(w, "NoSuchBucket", http.StatusNotFound)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		data, ok := b.objects[key]
		if !ok {
			http.Error(w, "NoSuchKey", http.StatusNotFound)
			return
		}
		w.Write(data)
	case http.MethodPut:
		if !b.verify(r) {
			http.Error(w, "SignatureDoesNotMatch", http.StatusForbidden)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "InternalError", http.StatusInternalServerError)
			return
		}
		b.objects[key] = data
	case http.MethodDelete:
		if !b.verify(r) {
			http.Error(w, "SignatureDoesNotMatch", http.StatusForbidden)
			return
		}
		if _, ok := b.objects[key]; !ok {
			http.Error(w, "NoSuchKey", http.StatusNotFound)
			return
		}
		delete(b.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "MethodNotAllowed", http.StatusMethodNotAllowed)
	}
}

func e2eStore(t *testing.T, endpoint, secretKey string) *Store {
	t.Helper()
	c, err := client.NewClient(&client.Config{
		AccessKeyID:     e2eAccessKey,
		SecretAccessKey: secretKey,
		AccountID:       "abc123",
		Bucket:          e2eBucket,
		Endpoint:        endpoint,
		Timeout:         2 * time.Second,
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	return NewStore(c, testLogger())
}

// The full admin flow: empty manifest, upload + record, re-read, delete +
// unrecord, empty again.
func TestEndToEndScenario(t *testing.T) {
	server := httptest.NewServer(newFakeBucket())
	defer server.Close()

	store := e2eStore(t, server.URL, e2eSecretKey)
	ctx := context.Background()

	m := store.FetchManifest(ctx)
	require.Empty(t, m.Images)

	url, err := store.UploadImage(ctx, []byte("png-bytes"), "cat.png", "image/png")
	require.NoError(t, err)
	require.Equal(t, server.URL+"/"+e2eBucket+"/ai-or-not/images/cat.png", url)

	item := Image{
		ID:        "img_1_abc123",
		Filename:  "cat.png",
		URL:       url,
		IsAI:      false,
		Source:    "test",
		CreatedAt: "2024-01-01T00:00:00Z",
	}
	m.Images = append(m.Images, item)
	require.NoError(t, store.SaveManifest(ctx, m))

	store.Invalidate()
	got, err := store.FetchManifestStrict(ctx)
	require.NoError(t, err)
	require.Len(t, got.Images, 1)
	assert.Equal(t, item, got.Images[0])

	require.NoError(t, store.DeleteImage(ctx, "cat.png"))

	got.Images = got.Images[:0]
	require.NoError(t, store.SaveManifest(ctx, got))

	store.Invalidate()
	final, err := store.FetchManifestStrict(ctx)
	require.NoError(t, err)
	assert.Empty(t, final.Images)
}

func TestUploadIdempotencyByKey(t *testing.T) {
	bucket := newFakeBucket()
	server := httptest.NewServer(bucket)
	defer server.Close()

	store := e2eStore(t, server.URL, e2eSecretKey)
	ctx := context.Background()

	_, err := store.UploadImageToKey(ctx, "gallery/fixed-key.png", []byte("first"), "image/png")
	require.NoError(t, err)
	_, err = store.UploadImageToKey(ctx, "gallery/fixed-key.png", []byte("second"), "image/png")
	require.NoError(t, err)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	assert.Equal(t, []byte("second"), bucket.objects["gallery/fixed-key.png"])
}

func TestDeleteThenFetchYieldsNotFound(t *testing.T) {
	server := httptest.NewServer(newFakeBucket())
	defer server.Close()

	store := e2eStore(t, server.URL, e2eSecretKey)
	ctx := context.Background()

	url, err := store.UploadImage(ctx, []byte("png"), "f.png", "image/png")
	require.NoError(t, err)

	require.NoError(t, store.DeleteImage(ctx, "f.png"))

	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteMissingIsAnOrdinaryFailure(t *testing.T) {
	server := httptest.NewServer(newFakeBucket())
	defer server.Close()

	store := e2eStore(t, server.URL, e2eSecretKey)
	err := store.DeleteImage(context.Background(), "never-uploaded.png")
	assert.ErrorIs(t, err, client.ErrObjectNotFound)
}

// Wrong secret key: the provider answers 403 and the operations surface typed
// errors instead of panicking.
func TestBadCredentialsSurfaceAsTypedErrors(t *testing.T) {
	server := httptest.NewServer(newFakeBucket())
	defer server.Close()

	store := e2eStore(t, server.URL, "wrong-secret")
	ctx := context.Background()

	err := store.SaveManifest(ctx, Manifest{})
	assert.ErrorIs(t, err, client.ErrAccessDenied)

	url, err := store.UploadImage(ctx, []byte("png"), "cat.png", "image/png")
	assert.ErrorIs(t, err, client.ErrAccessDenied)
	assert.Empty(t, url)
}
