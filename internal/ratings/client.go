// Package ratings queries the review-aggregator search API for title ratings.
package ratings

import (
	"context"
	"errors"
	"fmt"

	"github.com/chrismostert/schraper/internal/webclient"
)

// ErrNoResults is returned when the search API answers with an empty results
// envelope, which indicates a malformed query rather than a miss.
var ErrNoResults = errors.New("ratings api returned no result sets")

// Rating holds the aggregated scores attached to a search hit. Every field is
// optional upstream.
type Rating struct {
	AudienceScore      *int    `json:"audienceScore" db:"audience_score"`
	ScoreSentiment     *string `json:"scoreSentiment" db:"score_sentiment"`
	WantToSeeCount     *int    `json:"wantToSeeCount" db:"want_to_see_count"`
	CriticsScore       *int    `json:"criticsScore" db:"critics_score"`
	CertifiedFresh     *bool   `json:"certifiedFresh" db:"certified_fresh"`
	NewAdjustedTMScore *int    `json:"newAdjustedTMScore" db:"adjusted_score"`
}

// Hit is one search result.
type Hit struct {
	Title          string  `json:"title"`
	Vanity         string  `json:"vanity"`
	Description    *string `json:"description"`
	ReleaseYear    *int    `json:"releaseYear"`
	RottenTomatoes *Rating `json:"rottenTomatoes"`
}

type searchRequest struct {
	IndexName string `json:"indexName"`
	Query     string `json:"query"`
	Params    string `json:"params"`
}

type searchEnvelope struct {
	Results []struct {
		Hits []Hit `json:"hits"`
	} `json:"results"`
}

// Client queries the ratings search API.
type Client struct {
	url         string
	indexName   string
	hitsPerPage int
	web         *webclient.Client
}

// NewClient creates a ratings search client on top of the given web client.
func NewClient(url, indexName string, hitsPerPage int, web *webclient.Client) *Client {
	return &Client{
		url:         url,
		indexName:   indexName,
		hitsPerPage: hitsPerPage,
		web:         web,
	}
}

// Search runs a full-text query and returns the hits of the first result set.
// No hits for a query is a normal outcome and yields an empty slice.
func (c *Client) Search(ctx context.Context, query string) ([]Hit, error) {
	body := struct {
		Requests []searchRequest `json:"requests"`
	}{
		Requests: []searchRequest{{
			IndexName: c.indexName,
			Query:     query,
			Params:    fmt.Sprintf("filters=isEmsSearchable%%20%%3D%%201&hitsPerPage=%d", c.hitsPerPage),
		}},
	}

	var envelope searchEnvelope
	if err := c.web.PostJSON(ctx, c.url, body, &envelope); err != nil {
		return nil, fmt.Errorf("search ratings for %q: %w", query, err)
	}
	if len(envelope.Results) == 0 {
		return nil, fmt.Errorf("search ratings for %q: %w", query, ErrNoResults)
	}
	return envelope.Results[0].Hits, nil
}
