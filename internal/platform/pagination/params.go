package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps the supported page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

var (
	// ErrInvalidPageSize is returned when page_size is not a positive integer.
	ErrInvalidPageSize = errors.New("pagination: invalid page_size")
	// ErrInvalidPageToken is returned when page_token cannot be decoded.
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Options configures defaults applied while parsing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Params holds the parsed paging inputs.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Parse(nil, opts)
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page_size and page_token from values.
func Parse(values url.Values, opts Options) (Params, error) {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultMaxPageSize
	}

	params := Params{PageSize: opts.DefaultPageSize}

	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		if size > opts.MaxPageSize {
			size = opts.MaxPageSize
		}
		params.PageSize = size
	}

	if token := strings.TrimSpace(values.Get("page_token")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}

	return params, nil
}
