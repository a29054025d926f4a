package cinema

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrismostert/schraper/internal/logger"
	"github.com/chrismostert/schraper/internal/webclient"
)

func newTestServer(t *testing.T, routes map[string]string) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "nl", r.URL.Query().Get("language"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	web := webclient.New(webclient.Config{Cooldown: time.Millisecond}, logger.NewNop())
	return srv, NewClient(srv.URL, "nl", web)
}

func TestCinemasAndCities(t *testing.T) {
	_, client := newTestServer(t, map[string]string{
		"/api/cinemas": `[{"slug":"pathe-tuschinski","citySlug":"amsterdam","name":"Pathé Tuschinski"}]`,
		"/api/cities":  `[{"slug":"amsterdam","name":"Amsterdam"}]`,
	})

	cinemas, err := client.Cinemas(context.Background())
	require.NoError(t, err)
	require.Len(t, cinemas, 1)
	assert.Equal(t, Cinema{Slug: "pathe-tuschinski", CitySlug: "amsterdam", Name: "Pathé Tuschinski"}, cinemas[0])

	cities, err := client.Cities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []City{{Slug: "amsterdam", Name: "Amsterdam"}}, cities)
}

func TestShowsRejectsEmptyCatalog(t *testing.T) {
	_, client := newTestServer(t, map[string]string{
		"/api/shows": `{"shows":[]}`,
	})

	_, err := client.Shows(context.Background())
	assert.ErrorIs(t, err, ErrNoShows)
}

func TestShowsParsesCatalog(t *testing.T) {
	_, client := newTestServer(t, map[string]string{
		"/api/shows": `{"shows":[{
			"slug":"dune-part-two",
			"title":"Dune: Part Two",
			"releaseAt":["2024-02-28T00:00:00"],
			"posterPath":{"lg":"https://img/lg.jpg","md":"https://img/md.jpg"},
			"type":"movie",
			"duration":166,
			"genres":["Science Fiction","Adventure"]
		}]}`,
	})

	shows, err := client.Shows(context.Background())
	require.NoError(t, err)
	require.Len(t, shows, 1)

	flat, poster, genres := shows[0].Flatten()
	assert.Equal(t, "dune-part-two", flat.Slug)
	assert.Equal(t, 2024, flat.Year())
	require.NotNil(t, poster)
	assert.Equal(t, "https://img/lg.jpg", *poster.Lg)
	assert.Len(t, genres, 2)
}

func TestShowSlugs(t *testing.T) {
	_, client := newTestServer(t, map[string]string{
		"/api/cinema/pathe-tuschinski/shows": `{"shows":{"dune-part-two":{},"oppenheimer":{}}}`,
	})

	slugs, err := client.ShowSlugs(context.Background(), "pathe-tuschinski")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dune-part-two", "oppenheimer"}, slugs)
}

func TestShowtimesFlattensDays(t *testing.T) {
	_, client := newTestServer(t, map[string]string{
		"/api/show/dune-part-two/showtimes/pathe-tuschinski": `{
			"2026-08-29":[{"time":"2026-08-29 20:00:00","refCmd":"https://book/1","auditoriumName":"Zaal 1","auditoriumCapacity":700,"endTime":"2026-08-29 22:46:00"}],
			"2026-08-30":[{"time":"2026-08-30 20:00:00"}]
		}`,
	})

	showtimes, err := client.Showtimes(context.Background(), "dune-part-two", "pathe-tuschinski")
	require.NoError(t, err)
	require.Len(t, showtimes, 2)
	for _, st := range showtimes {
		assert.Equal(t, "dune-part-two", st.ShowSlug)
		assert.Equal(t, "pathe-tuschinski", st.CinemaSlug)
	}
}

func TestShowtimesDecodeFailureMeansNone(t *testing.T) {
	_, client := newTestServer(t, map[string]string{
		"/api/show/dune-part-two/showtimes/pathe-tuschinski": `[]`,
	})

	showtimes, err := client.Showtimes(context.Background(), "dune-part-two", "pathe-tuschinski")
	require.NoError(t, err)
	assert.Empty(t, showtimes)
}

func TestFlattenWithoutReleaseDateOrPoster(t *testing.T) {
	show := Show{Slug: "mystery", Title: "Mystery", ReleaseAt: []string{"soon"}}
	flat, poster, genres := show.Flatten()
	assert.Nil(t, flat.ReleaseAt)
	assert.Zero(t, flat.Year())
	assert.Nil(t, poster)
	assert.Empty(t, genres)
}
