package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// loadDotEnvPrecedence fills unset variables from .env.local, then .env.
// Variables already present in the environment are left alone.
func loadDotEnvPrecedence() error {
	for _, name := range []string{".env.local", ".env"} {
		values, err := godotenv.Read(name)
		if err != nil {
			continue
		}
		for k, v := range values {
			if existing, exists := os.LookupEnv(k); exists && strings.TrimSpace(existing) != "" {
				continue
			}
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// readDotFile returns a dotenv file's pairs, or nil when it is missing.
func readDotFile(name string) map[string]string {
	vals, err := godotenv.Read(name)
	if err != nil {
		return nil
	}
	return vals
}

// SaveSecret writes key=value into .env.local and sets it in the process.
func SaveSecret(key, value string) error {
	const path = ".env.local"
	env := map[string]string{}
	if existing, err := godotenv.Read(path); err == nil {
		env = existing
	}
	env[key] = value
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Setenv(key, value)
}
