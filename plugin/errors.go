package plugin

import "errors"

var (
	// ErrManifest is returned when a manifest cannot be parsed.
	ErrManifest = errors.New("plugin: invalid manifest")

	// ErrRegistration wraps every integrity violation found by Build.
	ErrRegistration = errors.New("plugin: registration failed")

	// ErrUnknownMethod is returned by Invoke for an unregistered method ID.
	ErrUnknownMethod = errors.New("plugin: unknown method")

	// ErrInvalidArgument is returned by Invoke when inputs or parameters do
	// not satisfy the method signature.
	ErrInvalidArgument = errors.New("plugin: invalid argument")

	// ErrUnknownEntryPoint is returned when no loader is registered under a
	// name.
	ErrUnknownEntryPoint = errors.New("plugin: unknown entry point")
)
