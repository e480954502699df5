package env

import (
	"os"

	"github.com/joho/godotenv"
)

// Env holds the values read from the .env file, if one was found.
var Env map[string]string

// GetEnv returns the process environment value, then the .env value, then def.
func GetEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := Env[key]; ok && val != "" {
		return val
	}
	return def
}

// SetupEnvFile loads the first .env file found into the process environment
// without overriding variables that are already set. It returns the loaded
// path, or "" when none exists; deployments without a file are fine.
func SetupEnvFile() string {
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/mealpay to project root
		"../../../.env", // Fallback for deeper nesting
	}

	for _, envFile := range envFiles {
		values, err := godotenv.Read(envFile)
		if err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err != nil {
			continue
		}
		Env = values
		return envFile
	}
	return ""
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
