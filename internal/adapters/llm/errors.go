package llm

import "errors"

// Sentinel kinds for LLM transport errors.
var (
	ErrNoChoices = errors.New("llm returned no choices")
	ErrNoAPIKey  = errors.New("llm api key is not set")
)
