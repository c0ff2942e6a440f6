package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-mirror/internal/crawler"
	"github.com/JakeFAU/site-mirror/internal/storage/local"
)

// MockFetcher is a mock implementation of crawler.Fetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(crawler.FetchResponse), args.Error(1)
}

func newBlobs(t *testing.T) *local.BlobStore {
	t.Helper()
	blobs, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return blobs
}

func TestPrepareLayout(t *testing.T) {
	blobs := newBlobs(t)
	require.NoError(t, PrepareLayout(blobs))

	for _, dir := range []string{"pages", "assets/images", "assets/css", "assets/js", "assets/fonts", "assets/videos", "assets/other"} {
		info, err := os.Stat(filepath.Join(blobs.Root(), dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestAssetStoreDownload(t *testing.T) {
	blobs := newBlobs(t)
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "https://a.com/img/logo.png").
		Return(crawler.FetchResponse{StatusCode: 200, Body: []byte("png")}, nil).Once()
	store := NewAssetStore(blobs, fetcher, AssetStoreConfig{BaseURL: "https://a.com/"}, nil)
	state := crawler.NewCrawlState()

	rel, ok := store.Download(context.Background(), "/img/logo.png", crawler.CategoryOther, state)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("assets", "images", "logo.png"), rel)
	assert.True(t, state.HasAsset("https://a.com/img/logo.png"))
	assert.Equal(t, 1, state.AssetCount())

	data, err := os.ReadFile(filepath.Join(blobs.Root(), rel))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	// A second request for the same asset is a no-op.
	_, ok = store.Download(context.Background(), "https://a.com/img/logo.png", crawler.CategoryImages, state)
	assert.False(t, ok)
	fetcher.AssertExpectations(t)
}

func TestAssetStoreHintForExtensionless(t *testing.T) {
	blobs := newBlobs(t)
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "https://a.com/fonts/brand").
		Return(crawler.FetchResponse{Body: []byte("font")}, nil)
	store := NewAssetStore(blobs, fetcher, AssetStoreConfig{BaseURL: "https://a.com"}, nil)

	rel, ok := store.Download(context.Background(), "https://a.com/fonts/brand", crawler.CategoryFonts, crawler.NewCrawlState())
	require.True(t, ok)
	assert.Equal(t, filepath.Join("assets", "fonts", "brand"), rel)
}

func TestAssetStoreResolvesAgainstTrimmedBase(t *testing.T) {
	blobs := newBlobs(t)
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "https://a.com/hero.png").
		Return(crawler.FetchResponse{Body: []byte("png")}, nil).Once()
	store := NewAssetStore(blobs, fetcher, AssetStoreConfig{BaseURL: "https://a.com/blog/"}, nil)

	rel, ok := store.Download(context.Background(), "hero.png", crawler.CategoryImages, crawler.NewCrawlState())
	require.True(t, ok)
	assert.Equal(t, filepath.Join("assets", "images", "hero.png"), rel)
	fetcher.AssertExpectations(t)
}

func TestAssetStoreKeepsNonASCIINamesApart(t *testing.T) {
	blobs := newBlobs(t)
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "https://a.com/%E6%97%A5%E6%9C%AC.png").
		Return(crawler.FetchResponse{Body: []byte("one")}, nil).Once()
	fetcher.On("Fetch", mock.Anything, "https://a.com/%E4%B8%AD%E6%96%87.png").
		Return(crawler.FetchResponse{Body: []byte("two")}, nil).Once()
	store := NewAssetStore(blobs, fetcher, AssetStoreConfig{BaseURL: "https://a.com"}, nil)
	state := crawler.NewCrawlState()

	first, ok := store.Download(context.Background(), "https://a.com/%E6%97%A5%E6%9C%AC.png", crawler.CategoryImages, state)
	require.True(t, ok)
	second, ok := store.Download(context.Background(), "https://a.com/%E4%B8%AD%E6%96%87.png", crawler.CategoryImages, state)
	require.True(t, ok)

	assert.Equal(t, filepath.Join("assets", "images", "日本.png"), first)
	assert.Equal(t, filepath.Join("assets", "images", "中文.png"), second)
	fetcher.AssertExpectations(t)
}

func TestAssetStoreSkipsOffDomain(t *testing.T) {
	blobs := newBlobs(t)
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "https://static.wixstatic.com/media/a.jpg").
		Return(crawler.FetchResponse{Body: []byte("jpg")}, nil).Once()
	store := NewAssetStore(blobs, fetcher, AssetStoreConfig{
		BaseURL:  "https://a.com",
		CDNHosts: []string{"static.wixstatic.com"},
	}, nil)
	state := crawler.NewCrawlState()

	_, ok := store.Download(context.Background(), "https://tracker.example.net/pixel.gif", crawler.CategoryImages, state)
	assert.False(t, ok)

	_, ok = store.Download(context.Background(), "data:image/png;base64,AAAA", crawler.CategoryImages, state)
	assert.False(t, ok)

	rel, ok := store.Download(context.Background(), "https://static.wixstatic.com/media/a.jpg", crawler.CategoryImages, state)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("assets", "images", "a.jpg"), rel)
	assert.Equal(t, 1, state.AssetCount())
	fetcher.AssertExpectations(t)
}

func TestAssetStoreExistingFileIsNotRefetched(t *testing.T) {
	blobs := newBlobs(t)
	_, err := blobs.PutObject(context.Background(), filepath.Join("assets", "css", "site.css"), []byte("old"))
	require.NoError(t, err)
	fetcher := new(MockFetcher)
	store := NewAssetStore(blobs, fetcher, AssetStoreConfig{BaseURL: "https://a.com"}, nil)
	state := crawler.NewCrawlState()

	rel, ok := store.Download(context.Background(), "https://a.com/site.css", crawler.CategoryCSS, state)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("assets", "css", "site.css"), rel)
	assert.True(t, state.HasAsset("https://a.com/site.css"))
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)

	data, err := os.ReadFile(filepath.Join(blobs.Root(), rel))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestAssetStoreFailureIsRetryable(t *testing.T) {
	blobs := newBlobs(t)
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "https://a.com/app.js").
		Return(crawler.FetchResponse{}, errors.New("http status 503")).Once()
	fetcher.On("Fetch", mock.Anything, "https://a.com/app.js").
		Return(crawler.FetchResponse{Body: []byte("js")}, nil).Once()
	store := NewAssetStore(blobs, fetcher, AssetStoreConfig{BaseURL: "https://a.com"}, nil)
	state := crawler.NewCrawlState()

	_, ok := store.Download(context.Background(), "/app.js", crawler.CategoryJS, state)
	assert.False(t, ok)
	assert.False(t, state.HasAsset("https://a.com/app.js"))

	_, ok = store.Download(context.Background(), "/app.js", crawler.CategoryJS, state)
	assert.True(t, ok)
	fetcher.AssertExpectations(t)
}

func TestAssetStoreConcurrentDownloadsFetchOnce(t *testing.T) {
	blobs := newBlobs(t)
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "https://a.com/hero.jpg").
		Return(crawler.FetchResponse{Body: []byte("jpg")}, nil).Once()
	store := NewAssetStore(blobs, fetcher, AssetStoreConfig{BaseURL: "https://a.com"}, nil)
	state := crawler.NewCrawlState()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wrote int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := store.Download(context.Background(), "/hero.jpg", crawler.CategoryImages, state); ok {
				mu.Lock()
				wrote++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wrote)
	assert.Equal(t, 1, state.AssetCount())
	fetcher.AssertExpectations(t)
}
