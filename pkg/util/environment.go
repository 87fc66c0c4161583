package util

import (
	"os"
	"strings"
)

// EnvPrefix namespaces every environment variable the process reads.
const EnvPrefix = "BUSBOARD_"

// GetEnvironmentVariables returns the BUSBOARD_* slice of the process
// environment as a map.
func GetEnvironmentVariables() map[string]string {
	environmentVariables := map[string]string{}

	for _, variable := range os.Environ() {
		pair := strings.SplitN(variable, "=", 2)

		if strings.HasPrefix(pair[0], EnvPrefix) {
			environmentVariables[pair[0]] = pair[1]
		}
	}

	return environmentVariables
}

// EnvDefault returns env[key], or fallback when the variable is unset or
// empty.
func EnvDefault(env map[string]string, key string, fallback string) string {
	if env[key] != "" {
		return env[key]
	}

	return fallback
}
