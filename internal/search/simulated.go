package search

import (
	"context"
	"fmt"
	"strings"
)

// SimulatedName is the provider name attached to fallback results so that
// downstream consumers can disclose degraded provenance.
const SimulatedName = "simulated"

// SimulatedProvider fabricates deterministic reference-style results so the
// pipeline always returns something when every real provider is down.
// Output is a pure function of the query.
type SimulatedProvider struct{}

// NewSimulatedProvider builds the offline provider.
func NewSimulatedProvider() *SimulatedProvider { return &SimulatedProvider{} }

func (p *SimulatedProvider) Name() string { return SimulatedName }

type simulatedSite struct {
	domain  string
	path    string
	title   string
	snippet string
}

var simulatedSites = []simulatedSite{
	{
		domain:  "en.wikipedia.org",
		path:    "/wiki/%s",
		title:   "%s - Wikipedia",
		snippet: "%s refers to a concept or field that encompasses various aspects and applications. It has evolved significantly over time and continues to impact multiple domains.",
	},
	{
		domain:  "www.britannica.com",
		path:    "/topics/%s",
		title:   "%s | Encyclopedia Britannica",
		snippet: "This article discusses the history, development, and significance of %s in various contexts, providing a comprehensive overview of the subject.",
	},
	{
		domain:  "www.sciencedirect.com",
		path:    "/article/%s",
		title:   "The science of %s - ScienceDirect",
		snippet: "This research paper examines the scientific principles behind %s, analyzing recent developments and potential future directions in the field.",
	},
	{
		domain:  "www.nature.com",
		path:    "/article/%s",
		title:   "Research on %s | Nature",
		snippet: "A peer-reviewed study on %s revealing new insights and methodologies that could transform our understanding of this important area.",
	},
	{
		domain:  "www.researchgate.net",
		path:    "/topics/%s",
		title:   "%s: A Comprehensive Review - ResearchGate",
		snippet: "This comprehensive review of %s synthesizes findings from multiple studies, identifying patterns, challenges, and opportunities for further research.",
	},
}

func (p *SimulatedProvider) Search(ctx context.Context, query string, numResults int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slug := strings.ReplaceAll(NormalizeQuery(query), " ", "-")
	titled := titleCase(query)

	n := numResults
	if n <= 0 || n > len(simulatedSites) {
		n = len(simulatedSites)
	}
	results := make([]Result, 0, n)
	for _, site := range simulatedSites[:n] {
		results = append(results, Result{
			Title:   fmt.Sprintf(site.title, titled),
			URL:     "https://" + site.domain + fmt.Sprintf(site.path, slug),
			Snippet: fmt.Sprintf(site.snippet, strings.ToLower(strings.TrimSpace(query))),
		})
	}
	return results, nil
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
