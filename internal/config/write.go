package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// sectionHeaderPrefix is the line prefix that starts a TOML profile section
// header. Used to detect section boundaries in line-based edits.
const sectionHeaderPrefix = "[profile."

// configTemplate is the default config file content written on first login.
// Global settings are present as commented-out defaults so users can
// discover every option without reading docs. This template is written once
// and never regenerated — user modifications are preserved by subsequent
// text-level edits.
const configTemplate = `# odb configuration

# ── Global settings ──
# Uncomment and modify to override defaults.

# [watch]
# Check interval for watch when no push channel is available
# poll_interval = "5m"
# Hold a push notification channel open between polls
# websocket = true

# [logging]
# Verbosity: debug, info, warn, error
# log_level = "info"
# Output format: auto, text, json
# log_format = "auto"

# [network]
# connect_timeout = "10s"
# data_timeout = "60s"

# ── Profiles ──
# Added automatically by 'login'.
`

// profileSection generates the TOML text for a new profile section. The
// blank line before the header visually separates profile sections from
// each other and from the global settings.
func profileSection(name string, keys map[string]string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n[profile.%s]\n", name)

	// Stable order so repeated logins produce identical files.
	for _, key := range []string{"account_type", "client_id", "tenant", "remote_path"} {
		if value, ok := keys[key]; ok && value != "" {
			fmt.Fprintf(&b, "%s = %q\n", key, value)
		}
	}

	return b.String()
}

// WriteStarterConfig writes the commented starter template to path. It
// refuses to overwrite an existing file — the template is a starting point,
// never a reset. Used by `config init`.
func WriteStarterConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	slog.Info("writing starter config", "path", path)

	return atomicWriteFile(path, []byte(configTemplate))
}

// CreateConfigWithProfile creates a new config file from the default
// template and appends a profile section. Used on first login when no
// config file exists. The write is atomic (temp file + rename) and parent
// directories are created as needed.
func CreateConfigWithProfile(path, name string, keys map[string]string) error {
	slog.Info("creating config file with profile", "path", path, "profile", name)

	content := configTemplate + profileSection(name, keys)

	return atomicWriteFile(path, []byte(content))
}

// AppendProfileSection appends a new profile section at the end of an
// existing config file. Used by subsequent logins. The write is atomic to
// avoid partial writes on crash.
func AppendProfileSection(path, name string, keys map[string]string) error {
	slog.Info("appending profile section to config", "path", path, "profile", name)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	content := string(data)

	// Ensure the file ends with a newline before appending, so the new
	// section header starts on its own line.
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += profileSection(name, keys)

	return atomicWriteFile(path, []byte(content))
}

// SetProfileKey finds a profile section by name and sets a key-value pair.
// If the key already exists within the section, its line is replaced. If
// not found, the key is inserted on the line after the section header.
//
// Value formatting: booleans ("true"/"false") are written without quotes;
// all other values are written as quoted strings.
func SetProfileKey(path, name, key, value string) error {
	slog.Info("setting profile key in config",
		"path", path, "profile", name, "key", key)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, name)
	if sectionStart < 0 {
		return fmt.Errorf("profile section %q not found in config", name)
	}

	formattedValue := formatTOMLValue(value)
	newLine := fmt.Sprintf("%s = %s", key, formattedValue)

	lines = setKeyInSection(lines, headerLine, sectionStart, key, newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// DeleteProfileSection removes a profile section (header + all keys) from
// the config file. Also removes blank lines immediately preceding the
// section header for clean formatting. Used by `logout --purge`.
func DeleteProfileSection(path, name string) error {
	slog.Info("deleting profile section from config", "path", path, "profile", name)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, name)
	if sectionStart < 0 {
		return fmt.Errorf("profile section %q not found in config", name)
	}

	sectionEnd := findSectionEnd(lines, sectionStart)

	// Remove preceding blank lines for clean formatting. Start from the
	// header line itself so the entire section (header + content) is deleted.
	blankStart := headerLine
	for blankStart > 0 && strings.TrimSpace(lines[blankStart-1]) == "" {
		blankStart--
	}

	lines = append(lines[:blankStart], lines[sectionEnd:]...)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader locates the line index of a profile section header.
// Returns the header line index and the section content start (header + 1).
// Returns -1 for both if the section is not found.
func findSectionHeader(lines []string, name string) (int, int) {
	header := fmt.Sprintf("[profile.%s]", name)

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i, i + 1
		}
	}

	return -1, -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. This excludes blank lines and comments that precede the
// next section header (those belong to the next section's preamble, not
// this section's content).
func findSectionEnd(lines []string, sectionStart int) int {
	nextHeader := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, sectionHeaderPrefix) {
			nextHeader = i

			break
		}
	}

	// Walk backwards from the next section header to skip blank lines and
	// comment lines that belong to the next section's preamble.
	end := nextHeader
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header.
func setKeyInSection(lines []string, headerLine, sectionStart int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	// Search for existing key within the section.
	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	// Key not found — insert after header.
	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// formatTOMLValue formats a value for TOML output. Booleans are written
// bare (true/false); all other values are quoted strings.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
