package telemetry

// MaskSecret masks sensitive strings for safe logging. Shows first 4 and
// last 4 characters for strings longer than 8 chars; returns "***" for
// short strings and "<not set>" for empty strings.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// Must panics if err is not nil, otherwise returns value. Used at startup
// for operations that should fail fast rather than propagate.
func Must[T any](value T, err error) T {
	if err != nil {
		panic(err)
	}
	return value
}
