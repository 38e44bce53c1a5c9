// Package inference selects and constructs the vision-language model
// backend the worker invokes. The model itself is a black box behind
// models.InferenceProvider; everything here is wiring.
package inference

import "errors"

var (
	ErrProviderUnavailable = errors.New("inference provider unavailable")
	ErrInferenceTimeout    = errors.New("inference timeout")
	ErrInvalidResponse     = errors.New("inference provider returned invalid response")
)
