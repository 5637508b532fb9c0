package grader

import (
	"regexp"
	"strings"

	"github.com/giantswarm/lab-grader/internal/lab"
)

// Students frequently paste image evidence as a Markdown link rather than a
// bare URL.
var markdownLinkPattern = regexp.MustCompile(`^!?\[[^\]]*\]\(([^)\s]+)\)$`)

// ImageURLs returns the evidence URLs of the step's image tools, in tool
// order and without duplicates.
func ImageURLs(step lab.Step) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, tool := range step.Tools {
		if tool.EvidenceType != lab.EvidenceImage {
			continue
		}
		u := imageURL(tool.Evidence)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

func imageURL(evidence string) string {
	evidence = strings.TrimSpace(evidence)
	if m := markdownLinkPattern.FindStringSubmatch(evidence); m != nil {
		return m[1]
	}
	return evidence
}
