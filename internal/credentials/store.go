// Package credentials reads and writes the two-line Polly credential file.
package credentials

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Credentials is an access key / secret pair. A pair where either field is
// empty is treated as absent.
type Credentials struct {
	AccessKey    string
	AccessSecret string
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.AccessKey) != "" && strings.TrimSpace(c.AccessSecret) != ""
}

// Redacted returns the key with all but its last four characters masked.
func (c Credentials) Redacted() string {
	key := c.AccessKey
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// Load reads the credential file at path. ok is false when the file is
// missing, empty, shorter than two lines or holds an empty field.
func Load(path string) (creds Credentials, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, false, nil
		}
		return Credentials{}, false, fmt.Errorf("read credentials file: %w", err)
	}
	if len(data) == 0 {
		return Credentials{}, false, nil
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() && len(lines) < 2 {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, false, fmt.Errorf("scan credentials file: %w", err)
	}
	if len(lines) < 2 {
		return Credentials{}, false, nil
	}

	creds = Credentials{
		AccessKey:    strings.TrimSpace(lines[0]),
		AccessSecret: strings.TrimSpace(lines[1]),
	}
	if !creds.Valid() {
		return Credentials{}, false, nil
	}
	return creds, true, nil
}

// Save writes creds to path atomically with owner-only permissions.
func Save(path string, creds Credentials) error {
	if !creds.Valid() {
		return fmt.Errorf("refusing to save incomplete credentials")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create credentials dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".polly_credentials-*")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	defer os.Remove(tmp.Name())

	content := strings.TrimSpace(creds.AccessKey) + "\n" + strings.TrimSpace(creds.AccessSecret) + "\n"
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}
