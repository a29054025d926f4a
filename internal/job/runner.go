package job

import "fmt"

// Kind identifies a job type.
type Kind string

// KindMovies fetches the cinema catalog, showtimes and ratings.
const KindMovies Kind = "movies"

// newRunner builds the runner for a job kind.
func newRunner(kind Kind, deps Deps) (Runner, error) {
	switch kind {
	case KindMovies:
		return NewMovieFetcher(deps), nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
}
