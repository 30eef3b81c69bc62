package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/remote"
	"github.com/joss/playsync/internal/retry"
)

var testSelectors = Selectors{
	List:  "ul.games",
	Item:  "ul.games li",
	Title: ".title",
	Next:  "a.next",
}

// listing renders a page of titles with an optional next control.
func listing(next string, titles ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul class=\"games\">")
	for _, t := range titles {
		fmt.Fprintf(&b, "<li><img src=x><span class=\"title\">%s</span></li>", t)
	}
	b.WriteString("</ul>")
	b.WriteString(next)
	b.WriteString("</body></html>")
	return b.String()
}

func TestParseTitles(t *testing.T) {
	html := listing("", "ELDEN RING", "  Ghost   of Tsushima ", "ELDEN RING")

	titles, err := ParseTitles(html, testSelectors, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"ELDEN RING", "Ghost of Tsushima", "ELDEN RING"}, titles)
}

func TestParseTitlesItemText(t *testing.T) {
	sel := testSelectors
	sel.Title = ""
	html := `<ul class="games"><li> Astro Bot </li><li>Returnal</li></ul>`

	titles, err := ParseTitles(html, sel, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Astro Bot", "Returnal"}, titles)
}

func TestParseTitlesFormatErrors(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{"item without title element", `<ul class="games"><li><span class="title">A</span></li><li><span>B</span></li></ul>`},
		{"all titles empty", `<ul class="games"><li><span class="title">  </span></li><li><span class="title"></span></li></ul>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTitles(tt.html, testSelectors, 3)
			require.Error(t, err)
			var fe *FormatError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, 3, fe.Page)
		})
	}
}

func TestParseTitlesEmptyListing(t *testing.T) {
	titles, err := ParseTitles(`<ul class="games"></ul>`, testSelectors, 1)
	assert.NoError(t, err)
	assert.Empty(t, titles)
}

func TestParseNext(t *testing.T) {
	base := "https://library.example.com/played?page=1"
	tests := []struct {
		name string
		html string
		want nextLink
	}{
		{"missing", `<div></div>`, nextLink{}},
		{"disabled attr", `<a class="next" disabled>Next</a>`, nextLink{found: true, disabled: true}},
		{"no href", `<a class="next">Next</a>`, nextLink{found: true}},
		{"aria disabled", `<a class="next" aria-disabled="true">Next</a>`, nextLink{found: true, disabled: true}},
		{"relative href", `<a class="next" href="?page=2">Next</a>`, nextLink{found: true, href: "https://library.example.com/played?page=2"}},
		{"fragment href", `<a class="next" href="#">Next</a>`, nextLink{found: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseNext(tt.html, "a.next", base))
		})
	}
}

// fakeSite serves a fixed set of pages. Pages are addressed by URL for
// navigation and by index for click pagination.
type fakeSite struct {
	urls    map[string]int
	pages   []string
	current int

	// notReady counts list waits that fail before the page renders.
	notReady  int
	navigated []string
	locates   map[string]int
	clicks    int

	// lag is how many reads after a click still return the old page.
	lag      int
	stale    int
	previous int
}

func newFakeSite(start string, pages ...string) *fakeSite {
	return &fakeSite{urls: map[string]int{start: 0}, pages: pages, locates: map[string]int{}}
}

func (s *fakeSite) Navigate(ctx context.Context, url string) error {
	s.navigated = append(s.navigated, url)
	idx, ok := s.urls[url]
	if !ok {
		return fmt.Errorf("404 %s", url)
	}
	s.current = idx
	return nil
}

func (s *fakeSite) Locate(ctx context.Context, selector string, timeout time.Duration) (remote.Element, error) {
	s.locates[selector]++
	if selector == testSelectors.List && s.notReady > 0 {
		s.notReady--
		return nil, remote.ErrNotFound
	}
	if !strings.Contains(s.pages[s.current], strings.Split(selector, ".")[1]) {
		return nil, remote.ErrNotFound
	}
	return &siteElement{site: s}, nil
}

func (s *fakeSite) HTML(ctx context.Context) (string, error) {
	if s.stale > 0 {
		s.stale--
		return s.pages[s.previous], nil
	}
	return s.pages[s.current], nil
}
func (s *fakeSite) Close() error                             { return nil }

type siteElement struct {
	site *fakeSite
}

func (e *siteElement) Text(ctx context.Context) (string, error) { return "", nil }
func (e *siteElement) Attr(ctx context.Context, name string) (string, bool, error) {
	return "", false, nil
}
func (e *siteElement) Click(ctx context.Context) error {
	e.site.clicks++
	e.site.previous = e.site.current
	e.site.stale = e.site.lag
	if e.site.current+1 < len(e.site.pages) {
		e.site.current++
	}
	return nil
}

func testExtractor(maxPages int) *Extractor {
	return New(Config{
		StartURL:    "https://library.example.com/played",
		Selectors:   testSelectors,
		PageTimeout: 10 * time.Millisecond,
		MaxPages:    maxPages,
		Page:        retry.Immediate(3),
	})
}

func collect(t *testing.T, seq func(func(string, error) bool)) ([]string, error) {
	t.Helper()
	var titles []string
	for title, err := range seq {
		if err != nil {
			return titles, err
		}
		titles = append(titles, title)
	}
	return titles, nil
}

func TestTitlesHrefPagination(t *testing.T) {
	start := "https://library.example.com/played"
	site := newFakeSite(start,
		listing(`<a class="next" href="/played?page=2">Next</a>`, "ELDEN RING", "Ghost of Tsushima"),
		listing(`<a class="next" aria-disabled="true">Next</a>`, "ELDEN  RING", "Astro Bot"),
	)
	site.urls["https://library.example.com/played?page=2"] = 1
	state := domain.NewExtractionSession()

	titles, err := collect(t, testExtractor(10).Titles(context.Background(), site, state))
	require.NoError(t, err)

	assert.Equal(t, []string{"ELDEN RING", "Ghost of Tsushima", "Astro Bot"}, titles)
	assert.Equal(t, []string{start, "https://library.example.com/played?page=2"}, site.navigated)
	assert.Equal(t, 2, state.Pages())
	assert.Equal(t, "https://library.example.com/played?page=2", state.Cursor())
}

func TestTitlesClickPagination(t *testing.T) {
	site := newFakeSite("https://library.example.com/played",
		listing(`<a class="next">Next</a>`, "A", "B"),
		listing(`<a class="next">Next</a>`, "C"),
		listing(``, "D"),
	)

	titles, err := collect(t, testExtractor(10).Titles(context.Background(), site, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C", "D"}, titles)
	assert.Equal(t, 2, site.clicks)
	assert.Len(t, site.navigated, 1)
}

func TestTitlesRepeatedPageStops(t *testing.T) {
	// Next control that never advances: the last page repeats.
	site := newFakeSite("https://library.example.com/played",
		listing(`<a class="next">Next</a>`, "A"),
	)

	titles, err := collect(t, testExtractor(10).Titles(context.Background(), site, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, titles)
	assert.Equal(t, 1, site.clicks)
	// The unchanged page is re-read under the page policy before giving up.
	assert.Equal(t, 4, site.locates[testSelectors.List])
}

func TestTitlesClickWaitsForStaleRead(t *testing.T) {
	site := newFakeSite("https://library.example.com/played",
		listing(`<a class="next">Next</a>`, "A", "B"),
		listing(``, "C"),
	)
	site.lag = 1
	state := domain.NewExtractionSession()

	titles, err := collect(t, testExtractor(10).Titles(context.Background(), site, state))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, titles)
	assert.Equal(t, 1, site.clicks)
	assert.Equal(t, 2, state.Pages())
	assert.Equal(t, "https://library.example.com/played#page=2", state.Cursor())
}

func TestTitlesClickStaleLongerThanPolicy(t *testing.T) {
	site := newFakeSite("https://library.example.com/played",
		listing(`<a class="next">Next</a>`, "A"),
		listing(``, "B"),
	)
	site.lag = 5

	titles, err := collect(t, testExtractor(10).Titles(context.Background(), site, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, titles)
	assert.Equal(t, 1, site.clicks)
	assert.Equal(t, 1+3, site.locates[testSelectors.List])
}

func TestTitlesRepeatedHrefStops(t *testing.T) {
	start := "https://library.example.com/played"
	site := newFakeSite(start,
		listing(`<a class="next" href="/played">Next</a>`, "A"),
	)

	titles, err := collect(t, testExtractor(10).Titles(context.Background(), site, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, titles)
	assert.Len(t, site.navigated, 1)
}

func TestTitlesMaxPages(t *testing.T) {
	site := newFakeSite("https://library.example.com/played",
		listing(`<a class="next">Next</a>`, "A"),
		listing(`<a class="next">Next</a>`, "B"),
		listing(`<a class="next">Next</a>`, "C"),
	)

	titles, err := collect(t, testExtractor(2).Titles(context.Background(), site, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, titles)
	assert.Equal(t, 1, site.clicks)
}

func TestTitlesTransientPageRetried(t *testing.T) {
	site := newFakeSite("https://library.example.com/played", listing("", "A"))
	site.notReady = 2

	titles, err := collect(t, testExtractor(10).Titles(context.Background(), site, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, titles)
	assert.Equal(t, 3, site.locates[testSelectors.List])
	assert.Len(t, site.navigated, 3)
}

func TestTitlesTransientExhausted(t *testing.T) {
	site := newFakeSite("https://library.example.com/played", listing("", "A"))
	site.notReady = 5

	titles, err := collect(t, testExtractor(10).Titles(context.Background(), site, nil))
	assert.ErrorIs(t, err, ErrExtractionTransient)
	assert.Empty(t, titles)
	assert.Equal(t, 3, site.locates[testSelectors.List])
}

func TestTitlesFormatErrorNotRetried(t *testing.T) {
	broken := `<html><ul class="games"><li><b>no title</b></li></ul></html>`
	site := newFakeSite("https://library.example.com/played", broken)

	_, err := collect(t, testExtractor(10).Titles(context.Background(), site, nil))
	assert.True(t, IsFormatError(err))
	assert.NotErrorIs(t, err, ErrExtractionTransient)
	assert.Equal(t, 1, site.locates[testSelectors.List])
}

func TestTitlesErrorAfterFirstPageKeepsEarlierTitles(t *testing.T) {
	start := "https://library.example.com/played"
	site := newFakeSite(start,
		listing(`<a class="next" href="/played?page=2">Next</a>`, "A", "B"),
	)
	// page 2 is not routable: navigation fails every attempt

	titles, err := collect(t, testExtractor(10).Titles(context.Background(), site, nil))
	assert.ErrorIs(t, err, ErrExtractionTransient)
	assert.Equal(t, []string{"A", "B"}, titles)
}

func TestTitlesConsumerStopsEarly(t *testing.T) {
	site := newFakeSite("https://library.example.com/played",
		listing(`<a class="next">Next</a>`, "A", "B"),
		listing(``, "C"),
	)

	var got []string
	for title, err := range testExtractor(10).Titles(context.Background(), site, nil) {
		require.NoError(t, err)
		got = append(got, title)
		if len(got) == 1 {
			break
		}
	}
	assert.Equal(t, []string{"A"}, got)
	assert.Zero(t, site.clicks)
}

func TestTitlesCancelled(t *testing.T) {
	site := newFakeSite("https://library.example.com/played", listing("", "A"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := collect(t, testExtractor(10).Titles(ctx, site, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimitSpacesPageLoads(t *testing.T) {
	site := newFakeSite("https://library.example.com/played",
		listing(`<a class="next">Next</a>`, "A"),
		listing(`<a class="next">Next</a>`, "B"),
		listing(``, "C"),
	)
	e := New(Config{
		StartURL:     "https://library.example.com/played",
		Selectors:    testSelectors,
		PageTimeout:  10 * time.Millisecond,
		PageInterval: 30 * time.Millisecond,
		MaxPages:     10,
		Page:         retry.Immediate(1),
	})

	start := time.Now()
	titles, err := collect(t, e.Titles(context.Background(), site, nil))
	require.NoError(t, err)
	assert.Len(t, titles, 3)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}
