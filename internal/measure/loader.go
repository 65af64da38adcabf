package measure

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/bryan-buckman/chanmirror/internal/fetch"
	_ "golang.org/x/image/webp"
)

// maxHeaderBytes bounds how much of an image is read to find its dimensions.
const maxHeaderBytes = 4 << 20

// HTTPLoader decodes image headers fetched over HTTP. Image hosts are not the
// rate limited API, so loads bypass the pacing gate and are not retried.
type HTTPLoader struct {
	fetcher *fetch.Fetcher
}

// NewHTTPLoader creates a loader sharing the application's fetcher.
func NewHTTPLoader(fetcher *fetch.Fetcher) *HTTPLoader {
	return &HTTPLoader{fetcher: fetcher}
}

// Dimensions implements ImageLoader.
func (l *HTTPLoader) Dimensions(ctx context.Context, url string) (int, int, error) {
	res, err := l.fetcher.Get(ctx, url, nil, fetch.Options{Immediate: true, MaxRetries: -1})
	if err != nil {
		return 0, 0, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return 0, 0, fmt.Errorf("load %s: %s", url, res.Status)
	}
	cfg, _, err := image.DecodeConfig(io.LimitReader(res.Body, maxHeaderBytes))
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", url, err)
	}
	return cfg.Width, cfg.Height, nil
}
