package gif

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
)

const DefaultGiphyEndpoint = "https://api.giphy.com/v1/gifs/search"

// Giphy authenticates with a static api key.
type Giphy struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func (g *Giphy) Name() string { return "giphy" }

type giphyResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Images struct {
			FixedHeightSmall struct {
				URL string `json:"url"`
			} `json:"fixed_height_small"`
			Original struct {
				URL string `json:"url"`
			} `json:"original"`
		} `json:"images"`
	} `json:"data"`
}

func (g *Giphy) Search(ctx context.Context, q Query) ([]Result, error) {
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = DefaultGiphyEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("giphy endpoint: %w", err)
	}
	v := u.Query()
	v.Set("api_key", g.APIKey)
	v.Set("q", q.Q)
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("offset", strconv.Itoa(q.Offset))
	u.RawQuery = v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client(g.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body giphyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	out := make([]Result, 0, len(body.Data))
	for _, d := range body.Data {
		if d.ID == "" || d.Images.Original.URL == "" {
			continue
		}
		preview := d.Images.FixedHeightSmall.URL
		if preview == "" {
			preview = d.Images.Original.URL
		}
		out = append(out, Result{ID: d.ID, PreviewURL: preview, OriginalURL: d.Images.Original.URL})
	}
	return out, nil
}
