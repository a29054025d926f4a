package job

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/chrismostert/schraper/internal/cinema"
	"github.com/chrismostert/schraper/internal/config"
	"github.com/chrismostert/schraper/internal/database"
	"github.com/chrismostert/schraper/internal/logger"
	"github.com/chrismostert/schraper/internal/matching"
	"github.com/chrismostert/schraper/internal/ratings"
	"github.com/chrismostert/schraper/internal/webclient"
)

// MovieFetcher pulls the full cinema catalog, cross-references every show
// against the ratings search API and writes the result to the database in one
// pass. Nothing is written until every fetch has succeeded, so a run either
// lands completely or not at all.
type MovieFetcher struct {
	store  database.Store
	cfg    *config.Config
	logger logger.Logger
}

// NewMovieFetcher creates the movie fetch job.
func NewMovieFetcher(deps Deps) *MovieFetcher {
	return &MovieFetcher{
		store:  deps.Store,
		cfg:    deps.Config,
		logger: deps.Logger,
	}
}

// showMatch pairs a show with its best rating hit.
type showMatch struct {
	hit   ratings.Hit
	score float64
}

// Run executes one fetch cycle.
func (f *MovieFetcher) Run(ctx context.Context) error {
	// The two upstreams get separate clients so each has its own quota and
	// failure cooldown.
	cinemaAPI := cinema.NewClient(
		f.cfg.Cinema.BaseURL,
		f.cfg.Cinema.Language,
		webclient.New(webclient.Config{
			RequestsPerSecond: f.cfg.Cinema.RequestsPerSecond,
			MaxRetries:        f.cfg.Cinema.MaxRetries,
			Cooldown:          f.cfg.Client.Cooldown,
			Timeout:           f.cfg.Client.Timeout,
		}, f.logger),
	)
	ratingsAPI := ratings.NewClient(
		f.cfg.Ratings.URL,
		f.cfg.Ratings.IndexName,
		f.cfg.Ratings.HitsPerPage,
		webclient.New(webclient.Config{
			RequestsPerSecond: f.cfg.Ratings.RequestsPerSecond,
			MaxRetries:        f.cfg.Ratings.MaxRetries,
			Cooldown:          f.cfg.Client.Cooldown,
			Timeout:           f.cfg.Client.Timeout,
		}, f.logger),
	)

	var (
		cinemas []cinema.Cinema
		cities  []cinema.City
		shows   []cinema.Show
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cinemas, err = cinemaAPI.Cinemas(gctx)
		return err
	})
	g.Go(func() (err error) {
		cities, err = cinemaAPI.Cities(gctx)
		return err
	})
	g.Go(func() (err error) {
		shows, err = cinemaAPI.Shows(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	flat := make([]cinema.FlatShow, len(shows))
	var posters []cinema.Poster
	var genres []cinema.Genre
	for i, show := range shows {
		var poster *cinema.Poster
		var showGenres []cinema.Genre
		flat[i], poster, showGenres = show.Flatten()
		if poster != nil {
			posters = append(posters, *poster)
		}
		genres = append(genres, showGenres...)
	}

	f.logger.Info("catalog fetched",
		logger.Int("cinemas", len(cinemas)),
		logger.Int("cities", len(cities)),
		logger.Int("shows", len(flat)),
	)

	// Ratings lookups and showtime fetches are independent, so both fan out
	// in one group. Results land in indexed slots to keep the output order
	// independent of goroutine timing.
	matches := make([]*showMatch, len(flat))
	perCinema := make([][]cinema.Showtime, len(cinemas))

	g, gctx = errgroup.WithContext(ctx)
	for i, show := range flat {
		i, show := i, show
		g.Go(func() (err error) {
			matches[i], err = f.matchRating(gctx, ratingsAPI, show)
			return err
		})
	}
	for i, cin := range cinemas {
		i, cin := i, cin
		g.Go(func() (err error) {
			perCinema[i], err = f.fetchCinemaShowtimes(gctx, cinemaAPI, cin.Slug)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var showtimes []cinema.Showtime
	for _, st := range perCinema {
		showtimes = append(showtimes, st...)
	}

	return f.persist(ctx, cities, cinemas, flat, posters, genres, showtimes, matches)
}

// matchRating finds the best rating hit for a show. No hit, or a hit scoring
// worse than the configured quality gate, yields nil.
func (f *MovieFetcher) matchRating(ctx context.Context, api *ratings.Client, show cinema.FlatShow) (*showMatch, error) {
	hits, err := api.Search(ctx, show.Title)
	if err != nil {
		return nil, err
	}

	hit, score, ok := matching.BestMatch(hits, show.Title, show.Year())
	if !ok {
		return nil, nil
	}
	if limit := f.cfg.Ratings.MaxMatchScore; limit > 0 && score > limit {
		f.logger.Debug("rating match rejected",
			logger.String("show", show.Slug),
			logger.String("hit", hit.Vanity),
			logger.Float64("score", score),
		)
		return nil, nil
	}
	return &showMatch{hit: hit, score: score}, nil
}

// fetchCinemaShowtimes fetches the showtimes for every show playing at one
// cinema.
func (f *MovieFetcher) fetchCinemaShowtimes(ctx context.Context, api *cinema.Client, cinemaSlug string) ([]cinema.Showtime, error) {
	slugs, err := api.ShowSlugs(ctx, cinemaSlug)
	if err != nil {
		return nil, err
	}

	perShow := make([][]cinema.Showtime, len(slugs))
	g, gctx := errgroup.WithContext(ctx)
	for i, slug := range slugs {
		i, slug := i, slug
		g.Go(func() (err error) {
			perShow[i], err = api.Showtimes(gctx, slug, cinemaSlug)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var showtimes []cinema.Showtime
	for _, st := range perShow {
		showtimes = append(showtimes, st...)
	}
	return showtimes, nil
}

// showRating is a persisted show-to-rating association.
type showRating struct {
	ShowSlug   string
	RatingSlug string
	MatchScore float64
}

// persist writes all batches in foreign-key order.
func (f *MovieFetcher) persist(
	ctx context.Context,
	cities []cinema.City,
	cinemas []cinema.Cinema,
	shows []cinema.FlatShow,
	posters []cinema.Poster,
	genres []cinema.Genre,
	showtimes []cinema.Showtime,
	matches []*showMatch,
) error {
	// Several shows can match the same rating. The rating row is written
	// once, first match wins, while each show keeps its own association.
	var hits []ratings.Hit
	var associations []showRating
	seen := make(map[string]struct{})
	for i, match := range matches {
		if match == nil {
			continue
		}
		if _, ok := seen[match.hit.Vanity]; !ok {
			seen[match.hit.Vanity] = struct{}{}
			hits = append(hits, match.hit)
		}
		associations = append(associations, showRating{
			ShowSlug:   shows[i].Slug,
			RatingSlug: match.hit.Vanity,
			MatchScore: match.score,
		})
	}

	batches := []database.Batch{
		database.NewBatch("cities", []string{"slug", "name"}, []string{"slug"},
			cities, func(c cinema.City) []any {
				return []any{c.Slug, c.Name}
			}),
		database.NewBatch("cinemas", []string{"slug", "city_slug", "name"}, []string{"slug"},
			cinemas, func(c cinema.Cinema) []any {
				return []any{c.Slug, c.CitySlug, c.Name}
			}),
		database.NewBatch("shows", []string{"slug", "title", "release_at", "type", "duration"}, []string{"slug"},
			shows, func(s cinema.FlatShow) []any {
				return []any{s.Slug, s.Title, s.ReleaseAt, s.Type, s.Duration}
			}),
		database.NewBatch("posters", []string{"show_slug", "lg", "md"}, []string{"show_slug"},
			posters, func(p cinema.Poster) []any {
				return []any{p.ShowSlug, p.Lg, p.Md}
			}),
		database.NewBatch("genres", []string{"show_slug", "genre"}, []string{"show_slug", "genre"},
			genres, func(g cinema.Genre) []any {
				return []any{g.ShowSlug, g.Genre}
			}),
		database.NewBatch("showtimes",
			[]string{"show_slug", "cinema_slug", "time", "reservation_url", "auditorium_name", "auditorium_capacity", "end_time"},
			[]string{"show_slug", "cinema_slug", "time"},
			showtimes, func(st cinema.Showtime) []any {
				return []any{st.ShowSlug, st.CinemaSlug, st.Time, st.ReservationURL, st.AuditoriumName, st.AuditoriumCapacity, st.EndTime}
			}),
		database.NewBatch("ratings",
			[]string{"slug", "title", "description", "release_year", "audience_score", "score_sentiment", "want_to_see_count", "critics_score", "certified_fresh", "adjusted_score"},
			[]string{"slug"},
			hits, ratingRow),
		database.NewBatch("show_ratings", []string{"show_slug", "rating_slug", "match_score"}, []string{"show_slug"},
			associations, func(a showRating) []any {
				return []any{a.ShowSlug, a.RatingSlug, a.MatchScore}
			}),
	}

	for _, batch := range batches {
		if err := f.store.UpsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("persist %s: %w", batch.Table, err)
		}
	}

	f.logger.Info("catalog persisted",
		logger.Int("showtimes", len(showtimes)),
		logger.Int("ratings", len(hits)),
		logger.Int("matched_shows", len(associations)),
	)
	return nil
}

func ratingRow(hit ratings.Hit) []any {
	score := hit.RottenTomatoes
	if score == nil {
		score = &ratings.Rating{}
	}
	return []any{
		hit.Vanity, hit.Title, hit.Description, hit.ReleaseYear,
		score.AudienceScore, score.ScoreSentiment, score.WantToSeeCount,
		score.CriticsScore, score.CertifiedFresh, score.NewAdjustedTMScore,
	}
}
