package cachegraph

import "errors"

// ErrNoProvider is returned by New when an enabled cache has no Provider.
var ErrNoProvider = errors.New("cachegraph: provider is required")

// ErrNoCodecID is returned by New for a codec reporting id 0.
var ErrNoCodecID = errors.New("cachegraph: codec id must be non-zero")
