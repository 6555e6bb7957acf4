// Package credfile rewrites the provider-native credential file. Every
// materialization rebuilds the whole file from the current set of active
// sessions, so the file is always a complete snapshot and never patched
// in place.
package credfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/systmms/credops/internal/logging"
)

// Field is one key/value line inside a profile block. Order is preserved.
type Field struct {
	Key   string
	Value string
}

// Entry is one ini-style profile block.
type Entry struct {
	Profile string
	Fields  []Field
}

// AWSEntry builds the block for an AWS session's materialized credentials.
// Empty values (no session token for static keys) are omitted.
func AWSEntry(profile, accessKeyID, secretAccessKey, sessionToken, region string) Entry {
	e := Entry{Profile: profile}
	e.Fields = append(e.Fields,
		Field{Key: "aws_access_key_id", Value: accessKeyID},
		Field{Key: "aws_secret_access_key", Value: secretAccessKey},
	)
	if sessionToken != "" {
		e.Fields = append(e.Fields, Field{Key: "aws_session_token", Value: sessionToken})
	}
	if region != "" {
		e.Fields = append(e.Fields, Field{Key: "region", Value: region})
	}
	return e
}

// AzureEntry builds the block for an Azure session's materialized token.
func AzureEntry(profile, subscriptionID, tenantID, accessToken, expiresAt string) Entry {
	return Entry{
		Profile: profile,
		Fields: []Field{
			{Key: "subscription_id", Value: subscriptionID},
			{Key: "tenant_id", Value: tenantID},
			{Key: "access_token", Value: accessToken},
			{Key: "expires_at", Value: expiresAt},
		},
	}
}

// Writer owns one credential file.
type Writer struct {
	path   string
	logger *logging.Logger
}

// DefaultAWSPath returns the shared AWS credentials file location.
func DefaultAWSPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".aws", "credentials"), nil
}

// NewWriter creates a writer for the credential file at path.
func NewWriter(path string, logger *logging.Logger) *Writer {
	return &Writer{path: path, logger: logger}
}

// Apply replaces the credential file so it contains exactly one block per
// entry. The content is written to a temporary file in the same directory
// and renamed over the target, so a reader never observes a half-written
// file. An empty entry set truncates the file.
func (w *Writer) Apply(entries []Entry) error {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s]\n", e.Profile)
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "%s = %s\n", f.Key, f.Value)
		}
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set credential file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp credential file: %w", err)
	}

	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}

	w.logger.Debug("materialized %d credential block(s) into %s", len(entries), w.path)
	return nil
}

// Read returns the current file content. Used by tests and the status
// command; a missing file reads as empty.
func (w *Writer) Read() (string, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// Entries parses the file back into its profile blocks. The materializer
// uses this to carry forward blocks written by another process, since the
// workspace is shared between CLI invocations and the rotation daemon.
func (w *Writer) Entries() ([]Entry, error) {
	content, err := w.Read()
	if err != nil {
		return nil, err
	}
	return parseEntries(content), nil
}

func parseEntries(content string) []Entry {
	var entries []Entry
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			entries = append(entries, Entry{Profile: strings.Trim(line, "[]")})
			continue
		}
		if len(entries) == 0 {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		current := &entries[len(entries)-1]
		current.Fields = append(current.Fields, Field{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
		})
	}
	return entries
}
