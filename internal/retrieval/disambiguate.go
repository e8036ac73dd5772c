package retrieval

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// authorVerifyLimit caps how many candidates get a verification fetch when
// an expected author is supplied.
const authorVerifyLimit = 3

// Disambiguator resolves a generic index/landing URL to a specific content
// URL via the external search index. Applied only when the target is a
// listing page or the domain is known to resist direct scraping; the
// orchestrator then re-enters the ladder with the resolved URL.
type Disambiguator struct {
	search  SearchIndex
	fetcher Fetcher
	log     *zap.Logger
}

// NewDisambiguator builds the disambiguation step. With a nil search index
// the step reports itself unavailable.
func NewDisambiguator(search SearchIndex, fetcher Fetcher, logger *zap.Logger) *Disambiguator {
	return &Disambiguator{search: search, fetcher: fetcher, log: logger}
}

// Enabled reports whether a search index is wired.
func (d *Disambiguator) Enabled() bool {
	return d != nil && d.search != nil
}

// Resolve returns a more specific URL for the request, or a classed failure.
func (d *Disambiguator) Resolve(ctx context.Context, req Request) (string, error) {
	if !d.Enabled() {
		return "", NewFailure(ContentAbsent, "search index unavailable for disambiguation")
	}
	if req.Subject.Empty() {
		return "", NewFailure(ContentAbsent, "no subject hints to disambiguate with")
	}

	query := req.Subject.Query() + " review site:" + req.Domain()
	hits, err := d.search.Search(ctx, query, 10)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", NewFailure(ContentAbsent, "search returned no candidates for %q", query)
	}

	ranked := rankHits(hits, req)
	if len(ranked) == 0 {
		return "", NewFailure(ContentAbsent, "no candidate scored above zero for %q", query)
	}

	if req.Subject.Author != "" {
		return d.verifyAuthor(ctx, ranked, req.Subject.Author)
	}

	best := ranked[0]
	d.log.Debug("disambiguation resolved",
		zap.String("input", req.URL), zap.String("resolved", best.hit.URL), zap.Int("score", best.score))
	return best.hit.URL, nil
}

type rankedHit struct {
	hit   SearchHit
	score int
}

func rankHits(hits []SearchHit, req Request) []rankedHit {
	tokens := req.Subject.Tokens()
	domain := req.Domain()
	var ranked []rankedHit
	for _, h := range hits {
		if hd := DomainOf(h.URL); hd != "" && domain != "" && !strings.HasSuffix(hd, domain) {
			continue
		}
		path := ""
		if i := strings.Index(h.URL, "://"); i >= 0 {
			rest := h.URL[i+3:]
			if j := strings.IndexByte(rest, '/'); j >= 0 {
				path = rest[j:]
			}
		}
		score := scoreCandidate(path, h.Title+" "+h.Snippet, tokens)
		if score > 0 {
			ranked = append(ranked, rankedHit{hit: h, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

// verifyAuthor fetches top candidates and accepts the first whose body
// actually mentions the expected author. Anchor text and snippets routinely
// lie; the page itself does not.
func (d *Disambiguator) verifyAuthor(ctx context.Context, ranked []rankedHit, author string) (string, error) {
	limit := len(ranked)
	if limit > authorVerifyLimit {
		limit = authorVerifyLimit
	}
	needle := []byte(strings.ToLower(author))
	for _, cand := range ranked[:limit] {
		if d.fetcher == nil {
			break
		}
		body, err := d.fetcher.FetchBody(ctx, cand.hit.URL)
		if err != nil {
			if IsClass(err, BudgetExceeded) {
				return "", err
			}
			continue
		}
		if bytes.Contains(bytes.ToLower(body), needle) {
			d.log.Debug("author verified on candidate",
				zap.String("url", cand.hit.URL), zap.String("author", author))
			return cand.hit.URL, nil
		}
	}
	return "", NewFailure(ContentAbsent, "no candidate page mentions author %q", author)
}
