package sources_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/coursecheck/internal/logger"
	"github.com/jonesrussell/coursecheck/internal/sources"
)

func newManifest() *sources.ManifestAdapter {
	return sources.NewManifestAdapter(http.DefaultClient, "coursecheck-test", logger.NewNop())
}

func TestManifestValidate(t *testing.T) {
	adapter := newManifest()

	tests := []struct {
		name   string
		url    string
		wantOK bool
	}{
		{"json extension", "https://example.com/course.json", true},
		{"txt extension", "https://example.com/list.txt", true},
		{"csv extension", "http://example.com/data.csv", true},
		{"manifest path segment", "https://example.com/api/manifest", true},
		{"lessons path segment", "https://example.com/program/lessons", true},
		{"plain page", "https://example.com/about.html", false},
		{"bad scheme", "ftp://example.com/course.json", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := adapter.Validate(tt.url)
			assert.Equal(t, tt.wantOK, result.OK)
			if !tt.wantOK {
				assert.NotEmpty(t, result.Reason)
			}
		})
	}
}

func TestManifestEnumerate_JSONLessons(t *testing.T) {
	manifest := `{
		"lessons": [
			{"title": "Intro", "url": "https://example.com/l/1"},
			{"title": "", "url": "https://example.com/l/2"},
			{"title": "Broken", "url": "not a url"}
		]
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(manifest))
	}))
	defer server.Close()

	lessons, err := newManifest().EnumerateLessons(context.Background(), server.URL, nil)
	require.NoError(t, err)

	require.Len(t, lessons, 2)
	assert.Equal(t, "Intro", lessons[0].Title)
	assert.Equal(t, "Lesson 2", lessons[1].Title)
	assert.Equal(t, 1, lessons[1].Order)
}

func TestManifestEnumerate_JSONFlatURLs(t *testing.T) {
	manifest := `{"urls": ["https://example.com/a", "https://example.com/b"]}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(manifest))
	}))
	defer server.Close()

	lessons, err := newManifest().EnumerateLessons(context.Background(), server.URL, nil)
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, "Lesson 1", lessons[0].Title)
	assert.Equal(t, "https://example.com/b", lessons[1].URL)
}

func TestManifestEnumerate_DelimitedText(t *testing.T) {
	manifest := "# course manifest\n" +
		"Intro\thttps://example.com/l/1\n" +
		"https://example.com/l/2|Reversed Columns\n" +
		"just some words without a url\n" +
		"\n" +
		"https://example.com/l/3\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(manifest))
	}))
	defer server.Close()

	lessons, err := newManifest().EnumerateLessons(context.Background(), server.URL, nil)
	require.NoError(t, err)

	require.Len(t, lessons, 3)
	assert.Equal(t, "Intro", lessons[0].Title)
	assert.Equal(t, "https://example.com/l/1", lessons[0].URL)
	assert.Equal(t, "Reversed Columns", lessons[1].Title)
	assert.Equal(t, "https://example.com/l/2", lessons[1].URL)
	assert.Equal(t, "Lesson 3", lessons[2].Title)
}

func TestManifestFetchLessonContent_StripsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><script>x()</script><p>Plain   lesson text</p></body></html>`))
	}))
	defer server.Close()

	content, err := newManifest().FetchLessonContent(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "Plain lesson text", content.Text)
	assert.NotContains(t, content.Text, "x()")
	assert.NotEmpty(t, content.Hash)
}

func TestManifestFetch_SessionExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newManifest().EnumerateLessons(context.Background(), server.URL, nil)
	require.ErrorIs(t, err, sources.ErrSessionExpired)
}
