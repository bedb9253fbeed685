package model

import (
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// MaxScreenshotNameLength bounds the sanitized name in bytes.
const MaxScreenshotNameLength = 255

// Screenshot is a captured image attached to exactly one build. Exactly one
// of Image, Path or RemoteID locates the payload, depending on the mode.
type Screenshot struct {
	ID         string
	Name       string
	Image      []byte
	Path       string
	RemoteID   string
	Properties ScreenshotProperties
	AttachedAt time.Time
}

// ScreenshotProperties are the capture-time attributes sent by the test process.
type ScreenshotProperties struct {
	Browser        string
	ViewportWidth  int
	ViewportHeight int
	Tags           map[string]string
}

// ScreenshotSubmission is one decoded intake request before validation.
type ScreenshotSubmission struct {
	BuildID    string // Optional; empty targets the active build.
	Name       string
	Image      []byte
	Properties ScreenshotProperties
}

// Clone returns a deep copy of s.
func (s Screenshot) Clone() Screenshot {
	c := s
	if s.Image != nil {
		c.Image = append([]byte(nil), s.Image...)
	}
	if s.Properties.Tags != nil {
		c.Properties.Tags = maps.Clone(s.Properties.Tags)
	}
	return c
}

var (
	driveLetterPattern = regexp.MustCompile(`^[A-Za-z]:`)
	unsafeNameChars    = regexp.MustCompile(`[^A-Za-z0-9._ -]`)
)

// SanitizeScreenshotName validates a user-supplied name and returns a form
// safe to embed in a filesystem path or URL segment. Traversal sequences,
// absolute paths, control characters and over-length names are rejected with
// ErrInvalidScreenshot rather than silently rewritten.
func SanitizeScreenshotName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidScreenshot)
	}
	if len(trimmed) > MaxScreenshotNameLength {
		return "", fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidScreenshot, MaxScreenshotNameLength)
	}
	if strings.Contains(trimmed, "..") {
		return "", fmt.Errorf("%w: name %q contains a path traversal sequence", ErrInvalidScreenshot, name)
	}
	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, `\`) || driveLetterPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: name %q is an absolute path", ErrInvalidScreenshot, name)
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: name contains control characters", ErrInvalidScreenshot)
		}
	}

	// Separators become underscores so a name never spans directories.
	safe := strings.NewReplacer("/", "_", `\`, "_").Replace(trimmed)
	safe = unsafeNameChars.ReplaceAllString(safe, "_")
	return safe, nil
}

// Validate checks a submission and returns its sanitized name.
func (sub ScreenshotSubmission) Validate() (string, error) {
	name, err := SanitizeScreenshotName(sub.Name)
	if err != nil {
		return "", err
	}
	if len(sub.Image) == 0 {
		return "", fmt.Errorf("%w: image is required", ErrInvalidScreenshot)
	}
	if sub.Properties.ViewportWidth < 0 || sub.Properties.ViewportHeight < 0 {
		return "", fmt.Errorf("%w: viewport dimensions must not be negative", ErrInvalidScreenshot)
	}
	return name, nil
}
