// Package cinema fetches cinemas, cities, shows and showtimes from the
// cinema-chain JSON API.
package cinema

import "time"

// City is a city the chain operates in.
type City struct {
	Slug string `json:"slug" db:"slug"`
	Name string `json:"name" db:"name"`
}

// Cinema is a single cinema location.
type Cinema struct {
	Slug     string `json:"slug" db:"slug"`
	CitySlug string `json:"citySlug" db:"city_slug"`
	Name     string `json:"name" db:"name"`
}

// Image holds the poster URLs attached to a show.
type Image struct {
	Lg string `json:"lg"`
	Md string `json:"md"`
}

// Show is a show as the API returns it, before normalization.
type Show struct {
	Slug      string   `json:"slug"`
	Title     string   `json:"title"`
	ReleaseAt []string `json:"releaseAt"`
	Poster    *Image   `json:"posterPath"`
	Type      string   `json:"type"`
	Duration  int      `json:"duration"`
	Genres    []string `json:"genres"`
}

// FlatShow is the normalized show record that gets persisted.
type FlatShow struct {
	Slug      string     `db:"slug"`
	Title     string     `db:"title"`
	ReleaseAt *time.Time `db:"release_at"`
	Type      string     `db:"type"`
	Duration  int        `db:"duration"`
}

// Year returns the release year, or 0 when the release date is unknown.
func (s FlatShow) Year() int {
	if s.ReleaseAt == nil {
		return 0
	}
	return s.ReleaseAt.Year()
}

// Poster is a persisted poster record.
type Poster struct {
	ShowSlug string  `db:"show_slug"`
	Lg       *string `db:"lg"`
	Md       *string `db:"md"`
}

// Genre is one genre label attached to a show.
type Genre struct {
	ShowSlug string `db:"show_slug"`
	Genre    string `db:"genre"`
}

// Showtime is a single screening of a show at a cinema. ShowSlug and
// CinemaSlug are not part of the API payload and are filled in by the client.
type Showtime struct {
	ShowSlug           string  `json:"-" db:"show_slug"`
	CinemaSlug         string  `json:"-" db:"cinema_slug"`
	Time               string  `json:"time" db:"time"`
	ReservationURL     *string `json:"refCmd" db:"reservation_url"`
	AuditoriumName     *string `json:"auditoriumName" db:"auditorium_name"`
	AuditoriumCapacity *int    `json:"auditoriumCapacity" db:"auditorium_capacity"`
	EndTime            *string `json:"endTime" db:"end_time"`
}

// releaseDateLayouts are tried in order when parsing a release date. The API
// is inconsistent about whether dates carry a time component or a zone.
var releaseDateLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

func parseReleaseDate(raw string) *time.Time {
	for _, layout := range releaseDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// Flatten converts an API show into its persisted records. The first
// parseable release date wins; unparseable or absent dates leave ReleaseAt
// nil. Nil is returned for the poster when the show carries none.
func (s Show) Flatten() (FlatShow, *Poster, []Genre) {
	flat := FlatShow{
		Slug:     s.Slug,
		Title:    s.Title,
		Type:     s.Type,
		Duration: s.Duration,
	}
	for _, raw := range s.ReleaseAt {
		if t := parseReleaseDate(raw); t != nil {
			flat.ReleaseAt = t
			break
		}
	}

	var poster *Poster
	if s.Poster != nil {
		poster = &Poster{ShowSlug: s.Slug}
		if s.Poster.Lg != "" {
			lg := s.Poster.Lg
			poster.Lg = &lg
		}
		if s.Poster.Md != "" {
			md := s.Poster.Md
			poster.Md = &md
		}
	}

	genres := make([]Genre, 0, len(s.Genres))
	for _, g := range s.Genres {
		genres = append(genres, Genre{ShowSlug: s.Slug, Genre: g})
	}
	return flat, poster, genres
}
