package config

import "os"

// projectEnvVars are consulted in order when no GCP project is configured.
var projectEnvVars = []string{
	"PROJECT",
	"GOOGLE_CLOUD_PROJECT",
	"GCP_PROJECT",
	"GCLOUD_PROJECT",
}

// ResolveProject returns explicit, or the first project set in the
// environment. Empty when none is found.
func ResolveProject(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range projectEnvVars {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return ""
}
