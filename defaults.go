package gosunsquirrel

// DefaultOptions returns the recommended set of options for production use:
// panic recovery and request ids.
func DefaultOptions() []Option {
	return []Option{
		WithRecovery(),
		WithRequestID(),
	}
}
