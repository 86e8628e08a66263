package chunkval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const DefaultWikipediaEndpoint = "https://en.wikipedia.org/w/api.php"

var _ ContentProvider = (*WikipediaProvider)(nil)

// WikipediaProvider fetches the plain text extract of a random article.
type WikipediaProvider struct {
	endpoint string
	client   *http.Client
}

func NewWikipediaProvider(endpoint string, client *http.Client) *WikipediaProvider {
	if endpoint == "" {
		endpoint = DefaultWikipediaEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WikipediaProvider{endpoint: endpoint, client: client}
}

func (w *WikipediaProvider) FetchRandomDocument(ctx context.Context) (string, error) {
	var random struct {
		Query struct {
			Random []struct {
				ID int64 `json:"id"`
			} `json:"random"`
		} `json:"query"`
	}
	if err := w.get(ctx, url.Values{
		"action":      {"query"},
		"format":      {"json"},
		"list":        {"random"},
		"rnnamespace": {"0"},
	}, &random); err != nil {
		return "", fmt.Errorf("picking random page: %w", err)
	}
	if len(random.Query.Random) == 0 {
		return "", errors.New("no random page returned")
	}
	pageID := strconv.FormatInt(random.Query.Random[0].ID, 10)

	var extract struct {
		Query struct {
			Pages map[string]struct {
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := w.get(ctx, url.Values{
		"action":          {"query"},
		"format":          {"json"},
		"pageids":         {pageID},
		"prop":            {"extracts"},
		"explaintext":     {"true"},
		"exsectionformat": {"plain"},
	}, &extract); err != nil {
		return "", fmt.Errorf("fetching page %s: %w", pageID, err)
	}
	page, ok := extract.Query.Pages[pageID]
	if !ok || page.Extract == "" {
		return "", fmt.Errorf("page %s has no extract", pageID)
	}
	return page.Extract, nil
}

func (w *WikipediaProvider) get(ctx context.Context, params url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", res.Status)
	}
	return json.NewDecoder(res.Body).Decode(v)
}
