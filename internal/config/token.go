package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// ResolveToken returns the bearer token by checking sources in priority order.
// Returns empty string if no token is found in any source.
func ResolveToken(flagToken, tokenFile, configToken string) string {
	// 1. Explicit flag (highest priority)
	if t := strings.TrimSpace(flagToken); t != "" {
		return t
	}

	// 2. Explicit token file
	if tokenFile != "" {
		if t, err := ReadTokenFile(tokenFile); err == nil {
			return t
		} else {
			log.Printf("[WARN] Ignoring --token-file: %v", err)
		}
	}

	// 3. Token stored in the config file
	if t := strings.TrimSpace(configToken); t != "" {
		return t
	}

	// 4. Default token file written by 'config init'
	if p := DefaultTokenPath(); p != "" {
		if t, err := ReadTokenFile(p); err == nil {
			return t
		}
	}

	// 5. Environment variable (lowest priority)
	return strings.TrimSpace(os.Getenv(EnvToken))
}

// ReadTokenFile reads a bearer token from a file.
// The file should contain only the token (whitespace is trimmed).
// Warns if file permissions are too open (not 0600 on Unix systems).
func ReadTokenFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat token file: %w", err)
	}

	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		fmt.Fprintf(os.Stderr, "Warning: Token file %s has insecure permissions %04o. Consider using 'chmod 600 %s'\n", path, mode, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file is empty")
	}
	return token, nil
}

// WriteTokenFile writes a bearer token to a file with secure permissions (0600).
func WriteTokenFile(path, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("cannot write empty token")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}
