package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/avast/retry-go/v4"
)

const (
	tmdbImageBase  = "https://image.tmdb.org/t/p"
	tmdbPosterSize = "w780"
)

// TMDBClient reads titles from the TMDB v3 REST API.
// Shows and anime are both TV titles on TMDB.
type TMDBClient struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	attempts uint
	delay    time.Duration
}

// Option customizes a TMDBClient.
type Option func(*TMDBClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(t *TMDBClient) { t.http = c } }

// WithRetry sets the number of attempts and the initial backoff delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(t *TMDBClient) {
		t.attempts = attempts
		t.delay = delay
	}
}

// NewTMDBClient builds a client for baseURL (for example https://api.themoviedb.org/3).
func NewTMDBClient(baseURL, apiKey string, opts ...Option) *TMDBClient {
	c := &TMDBClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 10 * time.Second},
		attempts: 3,
		delay:    200 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type tmdbTitle struct {
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	PosterPath   string  `json:"poster_path"`
	VoteAverage  float64 `json:"vote_average"`
}

func tmdbPath(kind model.Kind) (string, error) {
	switch kind {
	case model.KindMovie:
		return "movie", nil
	case model.KindShow, model.KindAnime:
		return "tv", nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", errs.ErrValidation, kind)
}

// GetByID fetches one title. 5xx answers and transport failures are retried with backoff.
func (c *TMDBClient) GetByID(ctx context.Context, kind model.Kind, mediaID string) (Details, error) {
	seg, err := tmdbPath(kind)
	if err != nil {
		return Details{}, err
	}
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, seg, url.PathEscape(mediaID))
	if c.apiKey != "" {
		u += "?api_key=" + url.QueryEscape(c.apiKey)
	}

	var t tmdbTitle
	err = retry.Do(
		func() error { return c.fetch(ctx, u, &t) },
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrUpstream) {
			return Details{}, err
		}
		return Details{}, fmt.Errorf("%w: %v", errs.ErrUpstream, err)
	}
	return toDetails(kind, mediaID, t), nil
}

func (c *TMDBClient) fetch(ctx context.Context, u string, out *tmdbTitle) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Unrecoverable(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Unrecoverable(errs.ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", errs.ErrUpstream, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return retry.Unrecoverable(fmt.Errorf("%w: status %d", errs.ErrUpstream, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("%w: decode: %v", errs.ErrUpstream, err))
	}
	return nil
}

func toDetails(kind model.Kind, id string, t tmdbTitle) Details {
	d := Details{
		Kind:        kind,
		ID:          id,
		Title:       t.Title,
		Overview:    t.Overview,
		ReleaseDate: t.ReleaseDate,
		Rating:      t.VoteAverage,
	}
	if d.Title == "" {
		d.Title = t.Name
	}
	if d.ReleaseDate == "" {
		d.ReleaseDate = t.FirstAirDate
	}
	d.Year = parseYear(d.ReleaseDate)
	if t.PosterPath != "" {
		d.PosterURL = tmdbImageBase + "/" + tmdbPosterSize + t.PosterPath
	}
	return d
}

func parseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
