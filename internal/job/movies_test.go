package job

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrismostert/schraper/internal/config"
	"github.com/chrismostert/schraper/internal/database"
	"github.com/chrismostert/schraper/internal/logger"
)

// spyStore records upserted batches in write order.
type spyStore struct {
	mu      sync.Mutex
	batches []database.Batch
}

func (s *spyStore) UpsertBatch(_ context.Context, batch database.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *spyStore) batch(t *testing.T, table string) database.Batch {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.Table == table {
			return b
		}
	}
	t.Fatalf("no batch written for table %s", table)
	return database.Batch{}
}

func newCinemaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	write := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/api/cinemas", write(`[
		{"slug":"pathe-tuschinski","citySlug":"amsterdam","name":"Pathé Tuschinski"},
		{"slug":"pathe-spuimarkt","citySlug":"den-haag","name":"Pathé Spuimarkt"}
	]`))
	mux.HandleFunc("/api/cities", write(`[
		{"slug":"amsterdam","name":"Amsterdam"},
		{"slug":"den-haag","name":"Den Haag"}
	]`))
	mux.HandleFunc("/api/shows", write(`{"shows":[
		{"slug":"dune-part-two","title":"Dune: Part Two","releaseAt":["2024-02-28T00:00:00"],
		 "posterPath":{"lg":"https://img/lg.jpg","md":"https://img/md.jpg"},
		 "type":"movie","duration":166,"genres":["Science Fiction"]},
		{"slug":"dune-part-two-imax","title":"Dune: Part Two","releaseAt":["2024-02-28T00:00:00"],
		 "type":"movie","duration":166,"genres":[]}
	]}`))
	mux.HandleFunc("/api/cinema/pathe-tuschinski/shows", write(`{"shows":{"dune-part-two":{}}}`))
	mux.HandleFunc("/api/cinema/pathe-spuimarkt/shows", write(`{"shows":{"dune-part-two-imax":{}}}`))
	mux.HandleFunc("/api/show/dune-part-two/showtimes/pathe-tuschinski", write(`{
		"2026-08-29":[{"time":"2026-08-29 20:00:00","auditoriumName":"Zaal 1"}]
	}`))
	// Unparseable payload, the upstream's way of saying "no screenings".
	mux.HandleFunc("/api/show/dune-part-two-imax/showtimes/pathe-spuimarkt", write(`[]`))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRatingsServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFetcherConfig(cinemaURL, ratingsURL string, maxScore float64) *config.Config {
	return &config.Config{
		Cinema: config.CinemaConfig{
			BaseURL:  cinemaURL,
			Language: "nl",
		},
		Ratings: config.RatingsConfig{
			URL:           ratingsURL,
			IndexName:     "content_rt",
			HitsPerPage:   5,
			MaxMatchScore: maxScore,
		},
		Client: config.ClientConfig{
			Cooldown: time.Millisecond,
			Timeout:  5 * time.Second,
		},
	}
}

const duneHits = `{"results":[{"hits":[
	{"title":"Dune: Part Two","vanity":"dune_part_two","releaseYear":2024,
	 "rottenTomatoes":{"audienceScore":95,"criticsScore":92}},
	{"title":"Dune","vanity":"dune_2021","releaseYear":2021}
]}]}`

func TestRunPersistsFullCatalog(t *testing.T) {
	cinemaSrv := newCinemaServer(t)
	ratingsSrv := newRatingsServer(t, duneHits)
	store := &spyStore{}

	fetcher := NewMovieFetcher(Deps{
		Store:  store,
		Config: newFetcherConfig(cinemaSrv.URL, ratingsSrv.URL, 0),
		Logger: logger.NewNop(),
	})

	require.NoError(t, fetcher.Run(context.Background()))

	// Referenced tables are written before the tables referencing them.
	tables := make([]string, len(store.batches))
	for i, b := range store.batches {
		tables[i] = b.Table
	}
	assert.Equal(t, []string{
		"cities", "cinemas", "shows", "posters", "genres",
		"showtimes", "ratings", "show_ratings",
	}, tables)

	assert.Len(t, store.batch(t, "cities").Rows, 2)
	assert.Len(t, store.batch(t, "shows").Rows, 2)
	assert.Len(t, store.batch(t, "posters").Rows, 1)

	// The decode failure at pathe-spuimarkt means only one screening exists.
	showtimes := store.batch(t, "showtimes")
	require.Len(t, showtimes.Rows, 1)
	assert.Equal(t, "dune-part-two", showtimes.Rows[0][0])

	// Both shows match the same rating: one rating row, two associations.
	assert.Len(t, store.batch(t, "ratings").Rows, 1)
	assocs := store.batch(t, "show_ratings").Rows
	require.Len(t, assocs, 2)
	for _, row := range assocs {
		assert.Equal(t, "dune_part_two", row[1])
		assert.Equal(t, 0.0, row[2])
	}
}

func TestRunRejectsMatchesAboveQualityGate(t *testing.T) {
	cinemaSrv := newCinemaServer(t)
	ratingsSrv := newRatingsServer(t, `{"results":[{"hits":[
		{"title":"Something Else Entirely","vanity":"something_else","releaseYear":1999}
	]}]}`)
	store := &spyStore{}

	fetcher := NewMovieFetcher(Deps{
		Store:  store,
		Config: newFetcherConfig(cinemaSrv.URL, ratingsSrv.URL, 0.3),
		Logger: logger.NewNop(),
	})

	require.NoError(t, fetcher.Run(context.Background()))
	assert.Empty(t, store.batch(t, "ratings").Rows)
	assert.Empty(t, store.batch(t, "show_ratings").Rows)
}

func TestRunWritesNothingWhenAFetchFails(t *testing.T) {
	cinemaSrv := newCinemaServer(t)
	ratingsSrv := newRatingsServer(t, `{"results":[]}`)
	store := &spyStore{}

	fetcher := NewMovieFetcher(Deps{
		Store:  store,
		Config: newFetcherConfig(cinemaSrv.URL, ratingsSrv.URL, 0),
		Logger: logger.NewNop(),
	})

	require.Error(t, fetcher.Run(context.Background()))
	assert.Empty(t, store.batches)
}
