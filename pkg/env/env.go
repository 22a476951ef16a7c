package env

import (
	"os"
	"strings"
)

const instanceIDVar = "BOLETOS_INSTANCE_ID"

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// InstanceID names this process in logs: BOLETOS_INSTANCE_ID, then the
// hostname, then "local".
func InstanceID() string {
	if id := Get(instanceIDVar, ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
