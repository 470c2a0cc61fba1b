package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/coursecheck/internal/contenthash"
	"github.com/jonesrussell/coursecheck/internal/logger"
)

// lessonLinkSelectors is the ordered cascade of structural selectors tried
// when enumerating lesson links. The first selector producing any matches
// wins; if none match, every anchor on the page is considered.
var lessonLinkSelectors = []string{
	".curriculum a[href]",
	".lesson-list a[href]",
	".course-content a[href]",
	"nav.lessons a[href]",
	"ol.lessons a[href], ul.lessons a[href]",
	"a.lesson-link[href]",
}

// contentSelectors is the ordered cascade tried when extracting the main
// lesson text. Matches shorter than minContentLength are rejected.
var contentSelectors = []string{
	"article",
	"main",
	".lesson-content",
	".lesson-body",
	"#content",
	".content",
}

// nonContentSelectors lists elements stripped before extracting body text.
const nonContentSelectors = "script, style, nav, header, footer, aside"

// minContentLength is the minimum plausible length of extracted lesson
// text. Anything shorter falls back to the whole-page text.
const minContentLength = 100

// skipLinkPattern filters out non-content links: auth pages, static assets
// and mail links.
var skipLinkPattern = regexp.MustCompile(
	`(?i)(/(login|logout|signin|signup|register|account|password)([/?#]|$))` +
		`|(\.(css|js|png|jpe?g|gif|svg|ico|woff2?|pdf|zip)([?#]|$))` +
		`|(^mailto:)`,
)

// ScraperAdapter fetches lessons from a cookie-authenticated course site by
// scraping its HTML.
type ScraperAdapter struct {
	client       *http.Client
	allowedHosts map[string]struct{}
	userAgent    string
	logger       logger.Logger
}

// NewScraperAdapter creates a scraper adapter restricted to the given hosts.
func NewScraperAdapter(
	client *http.Client,
	allowedHosts []string,
	userAgent string,
	log logger.Logger,
) *ScraperAdapter {
	hosts := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		hosts[strings.ToLower(h)] = struct{}{}
	}
	return &ScraperAdapter{
		client:       client,
		allowedHosts: hosts,
		userAgent:    userAgent,
		logger:       log,
	}
}

// Type returns the source type identifier.
func (a *ScraperAdapter) Type() string { return TypeScraper }

// Validate checks that the root URL uses HTTPS and targets an allowlisted host.
func (a *ScraperAdapter) Validate(rootURL string) ValidationResult {
	parsed, err := url.Parse(rootURL)
	if err != nil {
		return ValidationResult{OK: false, Reason: fmt.Sprintf("invalid URL: %v", err)}
	}

	if parsed.Scheme != "https" {
		return ValidationResult{OK: false, Reason: "URL scheme must be https"}
	}

	if _, ok := a.allowedHosts[strings.ToLower(parsed.Hostname())]; !ok {
		return ValidationResult{OK: false, Reason: fmt.Sprintf("host %q is not allowed", parsed.Hostname())}
	}

	return ValidationResult{OK: true}
}

// EnumerateLessons fetches the root page and extracts ordered lesson links.
func (a *ScraperAdapter) EnumerateLessons(
	ctx context.Context,
	rootURL string,
	auth *Auth,
) ([]LessonRef, error) {
	doc, err := a.fetchDocument(ctx, rootURL, auth)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("parse root URL: %w", err)
	}

	links := selectLessonLinks(doc)

	seen := make(map[string]struct{})
	var lessons []LessonRef
	links.Each(func(i int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || skipLinkPattern.MatchString(href) {
			return
		}

		resolved, resolveErr := base.Parse(href)
		if resolveErr != nil {
			return
		}
		resolved.Fragment = ""
		absolute := resolved.String()

		if _, dup := seen[absolute]; dup {
			return
		}
		seen[absolute] = struct{}{}

		lessons = append(lessons, LessonRef{
			Title: lessonTitle(sel, len(lessons)+1),
			URL:   absolute,
			Order: len(lessons),
		})
	})

	a.logger.Debug("enumerated lessons",
		logger.String("root_url", rootURL),
		logger.Int("count", len(lessons)),
	)

	return lessons, nil
}

// selectLessonLinks tries the selector cascade, falling back to all anchors.
func selectLessonLinks(doc *goquery.Document) *goquery.Selection {
	for _, selector := range lessonLinkSelectors {
		if matches := doc.Find(selector); matches.Length() > 0 {
			return matches
		}
	}
	return doc.Find("a[href]")
}

// lessonTitle derives a title from the link text, a nearby structural
// ancestor, or a positional default.
func lessonTitle(sel *goquery.Selection, position int) string {
	if title := strings.TrimSpace(sel.Text()); title != "" {
		return collapseSpaces(title)
	}

	if item := sel.Closest("li, tr, .lesson"); item.Length() > 0 {
		if title := strings.TrimSpace(item.Find("h1, h2, h3, h4, .title").First().Text()); title != "" {
			return collapseSpaces(title)
		}
	}

	return fmt.Sprintf("Lesson %d", position)
}

// FetchLessonContent fetches one lesson page and extracts its main text.
func (a *ScraperAdapter) FetchLessonContent(
	ctx context.Context,
	lessonURL string,
	auth *Auth,
) (*Content, error) {
	doc, err := a.fetchDocument(ctx, lessonURL, auth)
	if err != nil {
		return nil, err
	}

	doc.Find(nonContentSelectors).Remove()

	text := extractMainText(doc)
	text = normalizeText(text)

	return &Content{
		Text: text,
		Hash: contenthash.Hash(text),
	}, nil
}

// extractMainText tries the content selector cascade, requiring a plausible
// minimum length, and falls back to the whole page body.
func extractMainText(doc *goquery.Document) string {
	for _, selector := range contentSelectors {
		candidate := doc.Find(selector).First()
		if candidate.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(candidate.Text()); len(text) >= minContentLength {
			return text
		}
	}

	return strings.TrimSpace(doc.Find("body").First().Text())
}

// fetchDocument performs an authenticated GET and parses the response body.
// HTTP 401/403 surface as ErrSessionExpired.
func (a *ScraperAdapter) fetchDocument(
	ctx context.Context,
	pageURL string,
	auth *Auth,
) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", a.userAgent)
	if auth != nil && auth.Cookie != "" {
		req.Header.Set("Cookie", auth.Cookie)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, ErrSessionExpired)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	return doc, nil
}

// normalizeText collapses whitespace runs while preserving paragraph breaks.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	for _, line := range lines {
		line = collapseSpaces(strings.TrimSpace(line))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

var spaceRun = regexp.MustCompile(`[ \t]+`)

func collapseSpaces(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}
