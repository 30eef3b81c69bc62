package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/joss/playsync/internal/domain"
)

// Selectors locate titles inside the rendered listing.
type Selectors struct {
	List  string
	Item  string
	Title string
	Next  string
}

// ParseTitles returns the normalized titles of one rendered listing page in
// document order. Duplicates within the page are kept; the extractor
// dedupes across the run.
func ParseTitles(html string, sel Selectors, page int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &FormatError{Page: page, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	items := doc.Find(sel.Item)
	if items.Length() == 0 {
		return nil, nil
	}

	titles := make([]string, 0, items.Length())
	var missing int
	items.Each(func(_ int, item *goquery.Selection) {
		text := item.Text()
		if sel.Title != "" {
			t := item.Find(sel.Title).First()
			if t.Length() == 0 {
				missing++
				return
			}
			text = t.Text()
		}
		if title := domain.NormalizeTitle(text); title != "" {
			titles = append(titles, title)
		}
	})

	if missing > 0 {
		return nil, &FormatError{
			Page:   page,
			Reason: fmt.Sprintf("%d of %d items have no %q element", missing, items.Length(), sel.Title),
		}
	}
	if len(titles) == 0 {
		return nil, &FormatError{Page: page, Reason: fmt.Sprintf("all %d item titles are empty", items.Length())}
	}
	return titles, nil
}

// nextLink is the pagination control as seen in the rendered page.
type nextLink struct {
	found    bool
	disabled bool
	href     string
}

// parseNext inspects the next-page control in html. An href is resolved
// against base.
func parseNext(html, selector, base string) nextLink {
	if selector == "" {
		return nextLink{}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nextLink{}
	}
	el := doc.Find(selector).First()
	if el.Length() == 0 {
		return nextLink{}
	}

	link := nextLink{found: true}
	if _, ok := el.Attr("disabled"); ok {
		link.disabled = true
	}
	if v, _ := el.Attr("aria-disabled"); strings.EqualFold(v, "true") {
		link.disabled = true
	}
	if href, ok := el.Attr("href"); ok && href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:") {
		link.href = resolve(base, href)
	}
	return link
}

func resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
