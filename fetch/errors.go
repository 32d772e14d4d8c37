package fetch

import "errors"

var (
	// ErrNoContent indicates the page had no title or no body text.
	ErrNoContent = errors.New("no title or text found")

	// ErrUnexpectedStatus indicates a non-2xx HTTP response.
	ErrUnexpectedStatus = errors.New("unexpected http status")
)
