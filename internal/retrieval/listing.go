package retrieval

import (
	"bytes"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Path tokens that suggest an article-style review page.
var reviewPathTokens = []string{"review", "first-drive", "road-test", "test-drive", "long-term"}

// Path tokens that mark known non-article noise: spec sheets, comparison
// tools, template and boilerplate pages.
var nonArticleTokens = []string{"spec", "compare", "vs-", "/vs/", "price", "template", "sidebar", "tag/", "category/", "login", "signup"}

// listingPathTokens mark index/landing pages worth refining.
var listingPathTokens = []string{"reviews", "news", "articles", "category", "latest", "archive"}

// IsListingPage reports whether the URL and document look like a generic
// index rather than a single article: a shallow or listing-named path, or a
// link-dense body.
func IsListingPage(rawURL string, body []byte) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.Trim(strings.ToLower(u.Path), "/")
	if path == "" {
		return true
	}
	last := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		last = path[i+1:]
	}
	for _, tok := range listingPathTokens {
		if last == tok {
			return true
		}
	}
	if len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	links := doc.Find("a[href]").Length()
	text := len(strings.TrimSpace(doc.Find("p").Text()))
	// Dozens of links with barely any paragraph text reads like an index.
	return links >= 30 && text < links*20
}

// ScoredLink is an outbound link ranked for subject relevance.
type ScoredLink struct {
	URL   string
	Text  string
	Score int
}

// ScoreOutboundLinks ranks same-domain links on a listing page for relevance
// to the subject hints. Review-like paths score up, subject mentions in the
// anchor text score up, known non-article patterns score down.
func ScoreOutboundLinks(baseURL string, body []byte, hints SubjectHints) []ScoredLink {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	tokens := hints.Tokens()
	seen := make(map[string]struct{})
	var out []ScoredLink

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved, rerr := base.Parse(href)
		if rerr != nil || resolved.Hostname() == "" {
			return
		}
		if !strings.EqualFold(resolved.Hostname(), base.Hostname()) {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}

		text := strings.TrimSpace(sel.Text())
		score := scoreCandidate(resolved.Path, text, tokens)
		if score > 0 {
			out = append(out, ScoredLink{URL: link, Text: text, Score: score})
		}
	})

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// scoreCandidate scores one (path, title) pair against subject tokens.
// Shared by listing refinement and search disambiguation.
func scoreCandidate(path, title string, tokens []string) int {
	lowerPath := strings.ToLower(path)
	lowerTitle := strings.ToLower(title)
	score := 0
	for _, tok := range reviewPathTokens {
		if strings.Contains(lowerPath, tok) {
			score += 3
			break
		}
	}
	for _, tok := range tokens {
		if strings.Contains(lowerTitle, tok) {
			score += 2
		}
		if strings.Contains(lowerPath, strings.ReplaceAll(tok, " ", "-")) {
			score++
		}
	}
	for _, tok := range nonArticleTokens {
		if strings.Contains(lowerPath, tok) {
			score -= 4
			break
		}
	}
	return score
}

// ContainsSubjectTokens reports whether the body mentions every make/model
// token. Guards against accepting a refined candidate that only looked
// relevant from its link text.
func ContainsSubjectTokens(body []byte, hints SubjectHints) bool {
	tokens := hints.Tokens()
	if len(tokens) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, tok := range tokens {
		if !bytes.Contains(lower, []byte(tok)) {
			return false
		}
	}
	return true
}

// PageTitle extracts the document title, or "" when absent.
func PageTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
