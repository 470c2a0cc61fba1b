package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/coursecheck/internal/contenthash"
	"github.com/jonesrussell/coursecheck/internal/logger"
)

// manifestExtensions are the data-file extensions Validate accepts.
var manifestExtensions = []string{".json", ".txt", ".csv", ".tsv"}

// manifestPathSegments are path fragments that mark a URL as a manifest
// even without a recognized extension.
var manifestPathSegments = []string{"manifest", "lessons", "toc"}

// delimiters tried in order when splitting a text manifest line.
var delimiters = []string{"\t", "|", ";", ","}

// maxManifestBytes bounds how much of a manifest response is read.
const maxManifestBytes = 4 << 20

// ManifestAdapter reads lesson lists from JSON or delimited-text manifests.
type ManifestAdapter struct {
	client    *http.Client
	userAgent string
	logger    logger.Logger
}

// NewManifestAdapter creates a manifest adapter.
func NewManifestAdapter(client *http.Client, userAgent string, log logger.Logger) *ManifestAdapter {
	return &ManifestAdapter{client: client, userAgent: userAgent, logger: log}
}

// Type returns the source type identifier.
func (a *ManifestAdapter) Type() string { return TypeManifest }

// Validate accepts URLs ending in a data-file extension or containing a
// manifest-like path segment.
func (a *ManifestAdapter) Validate(rootURL string) ValidationResult {
	parsed, err := url.Parse(rootURL)
	if err != nil {
		return ValidationResult{OK: false, Reason: fmt.Sprintf("invalid URL: %v", err)}
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ValidationResult{OK: false, Reason: "URL scheme must be http or https"}
	}

	path := strings.ToLower(parsed.Path)
	for _, ext := range manifestExtensions {
		if strings.HasSuffix(path, ext) {
			return ValidationResult{OK: true}
		}
	}
	for _, segment := range manifestPathSegments {
		if strings.Contains(path, segment) {
			return ValidationResult{OK: true}
		}
	}

	return ValidationResult{
		OK:     false,
		Reason: "URL does not look like a lesson manifest (expected a data-file extension or manifest path)",
	}
}

// manifestDocument is the JSON manifest shape: either a lessons array with
// titles or a flat url list.
type manifestDocument struct {
	Lessons []manifestLesson `json:"lessons"`
	URLs    []string         `json:"urls"`
}

type manifestLesson struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// EnumerateLessons fetches the manifest and parses it by content type.
func (a *ManifestAdapter) EnumerateLessons(
	ctx context.Context,
	rootURL string,
	auth *Auth,
) ([]LessonRef, error) {
	body, contentType, err := a.fetch(ctx, rootURL, auth)
	if err != nil {
		return nil, err
	}

	if isJSONManifest(rootURL, contentType, body) {
		return parseJSONManifest(body)
	}

	return a.parseTextManifest(body), nil
}

// isJSONManifest decides the parse mode from content type, extension, or a
// leading brace.
func isJSONManifest(rootURL, contentType string, body []byte) bool {
	if strings.Contains(contentType, "json") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(rootURL), ".json") {
		return true
	}
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// parseJSONManifest reads a lessons[] or flat urls[] array.
func parseJSONManifest(body []byte) ([]LessonRef, error) {
	var doc manifestDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest JSON: %w", err)
	}

	var lessons []LessonRef
	for _, entry := range doc.Lessons {
		if !validLessonURL(entry.URL) {
			continue
		}
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			title = fmt.Sprintf("Lesson %d", len(lessons)+1)
		}
		lessons = append(lessons, LessonRef{Title: title, URL: entry.URL, Order: len(lessons)})
	}

	if len(lessons) == 0 {
		for _, raw := range doc.URLs {
			if !validLessonURL(raw) {
				continue
			}
			lessons = append(lessons, LessonRef{
				Title: fmt.Sprintf("Lesson %d", len(lessons)+1),
				URL:   raw,
				Order: len(lessons),
			})
		}
	}

	return lessons, nil
}

// parseTextManifest reads a delimited list, one lesson per line. Comment
// lines start with #. Malformed lines are skipped silently.
func (a *ManifestAdapter) parseTextManifest(body []byte) []LessonRef {
	var lessons []LessonRef

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		title, rawURL := splitManifestLine(line)
		if !validLessonURL(rawURL) {
			continue
		}
		if title == "" {
			title = fmt.Sprintf("Lesson %d", len(lessons)+1)
		}

		lessons = append(lessons, LessonRef{Title: title, URL: rawURL, Order: len(lessons)})
	}

	return lessons
}

// splitManifestLine splits one manifest line on the first matching
// delimiter and picks whichever column parses as a URL.
func splitManifestLine(line string) (title, rawURL string) {
	for _, delim := range delimiters {
		if !strings.Contains(line, delim) {
			continue
		}

		parts := strings.SplitN(line, delim, 2)
		left := strings.TrimSpace(parts[0])
		right := strings.TrimSpace(parts[1])

		if validLessonURL(left) {
			return right, left
		}
		return left, right
	}

	// No delimiter: the whole line must be the URL.
	return "", line
}

// validLessonURL reports whether the string is a well-formed absolute HTTP(S) URL.
func validLessonURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// FetchLessonContent fetches a lesson document and strips any HTML down to
// plain text.
func (a *ManifestAdapter) FetchLessonContent(
	ctx context.Context,
	lessonURL string,
	auth *Auth,
) (*Content, error) {
	body, contentType, err := a.fetch(ctx, lessonURL, auth)
	if err != nil {
		return nil, err
	}

	text := string(body)
	if strings.Contains(contentType, "html") || strings.Contains(text, "<") {
		doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(text))
		if parseErr == nil {
			doc.Find("script, style").Remove()
			text = doc.Text()
		}
	}

	text = normalizeText(text)

	return &Content{
		Text: text,
		Hash: contenthash.Hash(text),
	}, nil
}

// fetch performs a GET and returns the body and content type. HTTP 401/403
// surface as ErrSessionExpired.
func (a *ManifestAdapter) fetch(
	ctx context.Context,
	fetchURL string,
	auth *Auth,
) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", a.userAgent)
	if auth != nil && auth.Cookie != "" {
		req.Header.Set("Cookie", auth.Cookie)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", fetchURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, "", fmt.Errorf("fetch %s: %w", fetchURL, ErrSessionExpired)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", fetchURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}

	return body, resp.Header.Get("Content-Type"), nil
}
