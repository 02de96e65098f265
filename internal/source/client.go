// Package source fetches candidate items from a community listing API.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

const (
	defaultBaseURL   = "https://www.reddit.com"
	defaultUserAgent = "narration-service/1.0"
	defaultTimeout   = 30 * time.Second
	defaultLimit     = 25
	maxLimit         = 100
	fullnamePrefix   = "t3_"
)

var (
	// ErrRateLimited is returned when the listing API answers 429.
	ErrRateLimited = errors.New("content source rate limited")
	// ErrCollectionNotFound is returned when the listing API answers 404.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrEmptyCollection is returned for a blank collection name.
	ErrEmptyCollection = errors.New("collection name is required")
	// ErrUnexpectedStatus wraps any other non-200 answer.
	ErrUnexpectedStatus = errors.New("unexpected status from content source")
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client implements core.ContentSource over the hot listing of a collection.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data post   `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
}

// NewClient creates a listing client, filling defaults for zero fields.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// FetchCandidates returns up to limit hot items of collection, skipping
// stickied posts and posts without a title.
func (c *Client) FetchCandidates(ctx context.Context, collection string, limit int) ([]core.CandidateItem, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, ErrEmptyCollection
	}

	if limit <= 0 {
		limit = defaultLimit
	}

	limit = min(limit, maxLimit)

	endpoint := fmt.Sprintf("%s/r/%s/hot.json?limit=%s",
		c.baseURL, url.PathEscape(collection), strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create listing request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collection %s: %w", collection, err)
	}

	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, collection)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	default:
		return nil, fmt.Errorf("%w: %s for %s", ErrUnexpectedStatus, resp.Status, collection)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read listing body: %w", err)
	}

	var page listing

	err = json.Unmarshal(body, &page)
	if err != nil {
		return nil, fmt.Errorf("failed to decode listing for %s: %w", collection, err)
	}

	items := make([]core.CandidateItem, 0, len(page.Data.Children))

	for _, child := range page.Data.Children {
		entry := child.Data
		if entry.Stickied || strings.TrimSpace(entry.Title) == "" {
			continue
		}

		items = append(items, entry.toCandidate(collection))
	}

	return items, nil
}

func (p post) toCandidate(collection string) core.CandidateItem {
	sourceID := p.Name
	if sourceID == "" {
		sourceID = fullnamePrefix + p.ID
	}

	if p.Subreddit != "" {
		collection = p.Subreddit
	}

	return core.CandidateItem{
		SourceID:        sourceID,
		Collection:      collection,
		Title:           p.Title,
		Body:            p.Selftext,
		PrimarySignal:   p.Score,
		SecondarySignal: p.NumComments,
		Author:          p.Author,
		CreatedAt:       int64(p.CreatedUTC),
	}
}
