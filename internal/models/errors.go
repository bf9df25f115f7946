package models

import "errors"

// Failure classes shared by the pipeline packages. Only ErrConfiguration is
// fatal to a run; the rest are absorbed by the next fallback stage.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInvalidAsset        = errors.New("invalid asset")
	ErrNoCandidates        = errors.New("no candidates found")
	ErrSynthesisFailure    = errors.New("synthesis failure")
	ErrConfiguration       = errors.New("configuration error")
)
