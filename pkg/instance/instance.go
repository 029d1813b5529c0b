package instance

import "os"

// EnvKey overrides the detected instance identifier.
const EnvKey = "ESCROW_INSTANCE_ID"

// GetID returns the process instance identifier used to tag worker logs.
// It prefers ESCROW_INSTANCE_ID, then the hostname (the pod name on k8s / Cloud Run).
func GetID() string {
	if id := os.Getenv(EnvKey); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
