package observability

import (
	"time"

	"go.uber.org/zap"
)

// String constructs a field with the given key and value.
func String(key, value string) zap.Field {
	return zap.String(key, value)
}

// Int constructs a field with the given key and value.
func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// Int64 constructs a field with the given key and value.
func Int64(key string, value int64) zap.Field {
	return zap.Int64(key, value)
}

// Float64 constructs a field with the given key and value.
func Float64(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}

// Bool constructs a field with the given key and value.
func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

// Duration constructs a field with the given key and value.
func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}

// Strings constructs a field that carries a slice of strings.
func Strings(key string, values []string) zap.Field {
	return zap.Strings(key, values)
}

// Error is shorthand for the common idiom NamedError("error", err).
func Error(err error) zap.Field {
	return zap.Error(err)
}

// Any takes a key and an arbitrary value and chooses the best way to represent them as a field.
func Any(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}
