package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quailyquaily/guildmind/emoji"
	"github.com/quailyquaily/guildmind/llm"
)

const (
	DefaultCDNBase  = "https://cdn.discordapp.com/emojis"
	DefaultMaxBytes = 1 << 20
)

var (
	ErrNoSource      = errors.New("emoji has no image url or id")
	ErrImageTooLarge = errors.New("emoji image exceeds size limit")
	ErrNotAnImage    = errors.New("response is not an image")
	ErrURLNotAllowed = errors.New("image url not allowed")
)

// Fetcher downloads emoji images so they can be attached to a vision request.
type Fetcher struct {
	HTTP     *http.Client
	CDNBase  string
	MaxBytes int64
	// Policy is applied to the first request and every redirect.
	Policy *URLPolicy
}

func NewFetcher() *Fetcher {
	f := &Fetcher{
		CDNBase:  DefaultCDNBase,
		MaxBytes: DefaultMaxBytes,
		Policy:   MustURLPolicy(DefaultAllowedPrefixes),
	}
	f.HTTP = &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return f.check(req.URL)
		},
	}
	return f
}

func (f *Fetcher) check(u *url.URL) error {
	if err := f.Policy.Check(u); err != nil {
		return fmt.Errorf("%w: %v", ErrURLNotAllowed, err)
	}
	return nil
}

// ImageURL returns the URL the image is fetched from: the emoji's own URL if
// set, otherwise a CDN URL built from its id.
func (f *Fetcher) ImageURL(e emoji.Emoji) (string, error) {
	if u := strings.TrimSpace(e.URL); u != "" {
		return u, nil
	}
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return "", ErrNoSource
	}
	base := strings.TrimRight(strings.TrimSpace(f.CDNBase), "/")
	if base == "" {
		base = DefaultCDNBase
	}
	ext := "png"
	if e.Animated {
		ext = "gif"
	}
	return fmt.Sprintf("%s/%s.%s", base, id, ext), nil
}

func (f *Fetcher) Fetch(ctx context.Context, e emoji.Emoji) (llm.Image, error) {
	u, err := f.ImageURL(e)
	if err != nil {
		return llm.Image{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return llm.Image{}, err
	}
	if err := f.check(req.URL); err != nil {
		return llm.Image{}, err
	}
	hc := f.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return llm.Image{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llm.Image{}, fmt.Errorf("fetch %s: http %d", u, resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if resp.ContentLength > limit {
		return llm.Image{}, ErrImageTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return llm.Image{}, err
	}
	if int64(len(data)) > limit {
		return llm.Image{}, ErrImageTooLarge
	}

	mediaType := mediaTypeOf(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = mediaTypeOf(http.DetectContentType(data))
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return llm.Image{}, fmt.Errorf("%w: %s", ErrNotAnImage, mediaType)
	}
	return llm.Image{MediaType: mediaType, Data: data}, nil
}

func mediaTypeOf(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
