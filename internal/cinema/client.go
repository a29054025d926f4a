package cinema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chrismostert/schraper/internal/webclient"
)

// ErrNoShows is returned when the catalog endpoint answers with zero shows,
// which only happens when the upstream is broken.
var ErrNoShows = errors.New("cinema api returned no shows")

// Client talks to the cinema-chain API.
type Client struct {
	baseURL  string
	language string
	web      *webclient.Client
}

// NewClient creates a cinema API client on top of the given web client.
func NewClient(baseURL, language string, web *webclient.Client) *Client {
	return &Client{
		baseURL:  baseURL,
		language: language,
		web:      web,
	}
}

func (c *Client) url(format string, args ...any) string {
	return fmt.Sprintf("%s"+format+"?language=%s", append(append([]any{c.baseURL}, args...), c.language)...)
}

// Cinemas fetches every cinema location of the chain.
func (c *Client) Cinemas(ctx context.Context) ([]Cinema, error) {
	var cinemas []Cinema
	if err := c.web.GetJSON(ctx, c.url("/api/cinemas"), &cinemas); err != nil {
		return nil, fmt.Errorf("fetch cinemas: %w", err)
	}
	return cinemas, nil
}

// Cities fetches every city the chain operates in.
func (c *Client) Cities(ctx context.Context) ([]City, error) {
	var cities []City
	if err := c.web.GetJSON(ctx, c.url("/api/cities"), &cities); err != nil {
		return nil, fmt.Errorf("fetch cities: %w", err)
	}
	return cities, nil
}

// Shows fetches the full show catalog. An empty catalog is an error.
func (c *Client) Shows(ctx context.Context) ([]Show, error) {
	var envelope struct {
		Shows []Show `json:"shows"`
	}
	if err := c.web.GetJSON(ctx, c.url("/api/shows"), &envelope); err != nil {
		return nil, fmt.Errorf("fetch shows: %w", err)
	}
	if len(envelope.Shows) == 0 {
		return nil, ErrNoShows
	}
	return envelope.Shows, nil
}

// ShowSlugs fetches the slugs of the shows currently playing at a cinema.
func (c *Client) ShowSlugs(ctx context.Context, cinemaSlug string) ([]string, error) {
	var envelope struct {
		Shows map[string]json.RawMessage `json:"shows"`
	}
	if err := c.web.GetJSON(ctx, c.url("/api/cinema/%s/shows", cinemaSlug), &envelope); err != nil {
		return nil, fmt.Errorf("fetch shows for cinema %s: %w", cinemaSlug, err)
	}
	slugs := make([]string, 0, len(envelope.Shows))
	for slug := range envelope.Shows {
		slugs = append(slugs, slug)
	}
	return slugs, nil
}

// Showtimes fetches the screenings of one show at one cinema. The endpoint
// answers with an unparseable payload when the pairing has no screenings, so
// a decode failure means "none" rather than an error.
func (c *Client) Showtimes(ctx context.Context, showSlug, cinemaSlug string) ([]Showtime, error) {
	var byDay map[string][]Showtime
	err := c.web.GetJSON(ctx, c.url("/api/show/%s/showtimes/%s", showSlug, cinemaSlug), &byDay)
	if err != nil {
		if webclient.IsDecodeError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch showtimes for %s at %s: %w", showSlug, cinemaSlug, err)
	}

	var showtimes []Showtime
	for _, day := range byDay {
		for _, st := range day {
			st.ShowSlug = showSlug
			st.CinemaSlug = cinemaSlug
			showtimes = append(showtimes, st)
		}
	}
	return showtimes, nil
}
