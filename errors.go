package tsne

import "errors"

// Sentinel errors returned (usually wrapped with context) by the package.
// Match them with errors.Is.
var (
	// ErrShape is returned when a slice length does not agree with the
	// declared number of samples or components.
	ErrShape = errors.New("tsne: shape mismatch")

	// ErrInvalidPerplexity is returned for a perplexity that is not a
	// positive finite number, or not smaller than the number of samples.
	ErrInvalidPerplexity = errors.New("tsne: invalid perplexity")

	// ErrNegativeDistance is returned when an input distance is negative.
	ErrNegativeDistance = errors.New("tsne: negative distance")

	// ErrNonFinite is returned when an input contains NaN or ±Inf.
	ErrNonFinite = errors.New("tsne: NaN or Inf encountered")

	// ErrInvalidDegreesOfFreedom is returned when the Student-t degrees of
	// freedom are not positive.
	ErrInvalidDegreesOfFreedom = errors.New("tsne: degrees of freedom must be > 0")

	// ErrInvalidAngle is returned when the Barnes-Hut angle is outside [0, 1].
	ErrInvalidAngle = errors.New("tsne: angle must be in [0, 1]")

	// ErrTooManyComponents is returned when the Barnes-Hut method is asked
	// for an embedding with more than 3 dimensions.
	ErrTooManyComponents = errors.New("tsne: barnes_hut supports at most 3 components")

	// ErrInvalidConfig is wrapped by every Config validation failure.
	ErrInvalidConfig = errors.New("tsne: invalid config")
)
