package gif

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultGfycatTokenEndpoint  = "https://api.gfycat.com/v1/oauth/token"
	DefaultGfycatSearchEndpoint = "https://api.gfycat.com/v1/gfycats/search"
	defaultTokenTTL             = time.Hour
	tokenRefreshTimeout         = 15 * time.Second
	maxResponseBytes            = 4 << 20
)

var errUnauthorized = errors.New("bearer token rejected")

// Gfycat needs a client-credentials bearer token. The token is shared
// through a TokenCache and refreshed at most once at a time.
type Gfycat struct {
	TokenEndpoint  string
	SearchEndpoint string
	ClientID       string
	ClientSecret   string
	Client         *http.Client
	Cache          TokenCache

	sf singleflight.Group
}

func (g *Gfycat) Name() string { return "gfycat" }

func (g *Gfycat) Search(ctx context.Context, q Query) ([]Result, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}
	res, err := g.search(ctx, token, q)
	if errors.Is(err, errUnauthorized) {
		// Cached token expired upstream before its ttl; refresh once.
		_ = g.Cache.Delete(ctx, g.Name())
		if token, err = g.token(ctx); err != nil {
			return nil, err
		}
		res, err = g.search(ctx, token, q)
	}
	return res, err
}

func (g *Gfycat) token(ctx context.Context) (string, error) {
	tok, ok, err := g.Cache.Get(ctx, g.Name())
	if err != nil {
		log.Warn().Str("module", "relay.gif").Err(err).Msg("token cache read failed")
	}
	if ok {
		return tok, nil
	}
	// Shared by every waiting caller. It outlives the request that started it.
	ch := g.sf.DoChan(g.Name(), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenRefreshTimeout)
		defer cancel()
		tok, ttl, err := g.fetchToken(rctx)
		if err != nil {
			return "", err
		}
		if err := g.Cache.Set(rctx, g.Name(), tok, ttl); err != nil {
			log.Warn().Str("module", "relay.gif").Err(err).Msg("token cache write failed")
		}
		log.Debug().Str("module", "relay.gif").Dur("ttl", ttl).Msg("gfycat token refreshed")
		return tok, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (g *Gfycat) fetchToken(ctx context.Context) (string, time.Duration, error) {
	endpoint := g.TokenEndpoint
	if endpoint == "" {
		endpoint = DefaultGfycatTokenEndpoint
	}
	payload, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     g.ClientID,
		"client_secret": g.ClientSecret,
	})
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client(g.Client).Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token request: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", 0, errors.New("token response without access_token")
	}
	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return body.AccessToken, ttl, nil
}

func (g *Gfycat) search(ctx context.Context, token string, q Query) ([]Result, error) {
	endpoint := g.SearchEndpoint
	if endpoint == "" {
		endpoint = DefaultGfycatSearchEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("gfycat endpoint: %w", err)
	}
	v := u.Query()
	v.Set("search_text", q.Q)
	v.Set("count", strconv.Itoa(q.Limit))
	if q.Offset > 0 {
		v.Set("start", strconv.Itoa(q.Offset))
	}
	u.RawQuery = v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client(g.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Gfycats []struct {
			GfyID     string `json:"gfyId"`
			GifURL    string `json:"gifUrl"`
			Max2mbGif string `json:"max2mbGif"`
			Gif100px  string `json:"gif100px"`
		} `json:"gfycats"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	out := make([]Result, 0, len(body.Gfycats))
	for _, gf := range body.Gfycats {
		original := gf.GifURL
		if original == "" {
			original = gf.Max2mbGif
		}
		if gf.GfyID == "" || original == "" {
			continue
		}
		preview := gf.Gif100px
		if preview == "" {
			preview = original
		}
		out = append(out, Result{ID: gf.GfyID, PreviewURL: preview, OriginalURL: original})
	}
	return out, nil
}

func client(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
