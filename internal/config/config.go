// Package config loads teltubby's configuration from environment variables,
// with an optional YAML file (via viper) layered underneath as defaults that
// the environment always overrides. Typed getters and a Validator accumulate
// field-level errors into one combined error at startup, rather than failing
// on the first missing value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfig retrieves values from the environment with an optional key prefix.
type EnvConfig struct {
	prefix string
	file   *viper.Viper
}

// NewEnvConfig creates an environment loader. If file is non-nil, values
// fall back to it when the environment variable is unset.
func NewEnvConfig(prefix string, file *viper.Viper) *EnvConfig {
	return &EnvConfig{prefix: prefix, file: file}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

func (ec *EnvConfig) raw(key string) (string, bool) {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		return value, true
	}
	if ec.file != nil {
		if value := ec.file.GetString(strings.ToLower(fullKey)); value != "" {
			return value, true
		}
	}
	return "", false
}

// GetString retrieves a string value with a default.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v, ok := ec.raw(key); ok {
		return v
	}
	return defaultValue
}

// MustGetString retrieves a required string value or panics.
func (ec *EnvConfig) MustGetString(key string) string {
	v, ok := ec.raw(key)
	if !ok {
		panic(fmt.Sprintf("required environment variable %s not set", ec.buildKey(key)))
	}
	return v
}

// GetInt retrieves an integer value with a default.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if v, ok := ec.raw(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

// GetInt64 retrieves an int64 value with a default.
func (ec *EnvConfig) GetInt64(key string, defaultValue int64) int64 {
	if v, ok := ec.raw(key); ok {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// GetFloat64 retrieves a float value with a default.
func (ec *EnvConfig) GetFloat64(key string, defaultValue float64) float64 {
	if v, ok := ec.raw(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value with a default.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if v, ok := ec.raw(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetDuration retrieves a time.Duration value with a default, parsed via Go duration syntax.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if v, ok := ec.raw(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetInt64Slice retrieves a comma-separated list of int64 values (e.g. a user-id whitelist).
func (ec *EnvConfig) GetInt64Slice(key string, defaultValue []int64) []int64 {
	v, ok := ec.raw(key)
	if !ok {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	result := make([]int64, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		id, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			continue
		}
		result = append(result, id)
	}
	return result
}

// Validator accumulates configuration validation errors so all problems
// surface at once instead of one panic per missing field.
type Validator struct {
	errors []string
}

func NewValidator() *Validator { return &Validator{errors: make([]string, 0)} }

func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *Validator) RequireRange(field string, value, min, max int) {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %d and %d", field, min, max))
	}
}

func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

func (v *Validator) Validate() error {
	if v.IsValid() {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
}

// LoadFile attempts to read an optional YAML config file. A missing file is
// not an error; values simply fall back to environment variables only.
func LoadFile(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil
	}
	return v
}
