package service

import (
	"regexp"
	"strings"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
)

// Host lists per built-in category. Any subdomain of these hosts matches.
var categoryHosts = map[domain.SiteCategory][]string{
	domain.CategoryYouTube: {
		"youtube.com",
		"youtu.be",
		"googlevideo.com",
	},
	domain.CategoryYouTubeAlternatives: {
		"youtube-nocookie.com",
		"invidious.io",
		"yewtu.be",
		"inv.nadeko.net",
		"invidious.nerdvpn.de",
		"piped.video",
		"piped.kavin.rocks",
	},
	domain.CategoryVimeo: {
		"vimeo.com",
		"vimeocdn.com",
	},
	domain.CategoryDailymotion: {
		"dailymotion.com",
		"dmcdn.net",
	},
	domain.CategoryTwitch: {
		"twitch.tv",
		"ttvnw.net",
	},
}

var builtinCategories = []domain.SiteCategory{
	domain.CategoryYouTube,
	domain.CategoryYouTubeAlternatives,
	domain.CategoryVimeo,
	domain.CategoryDailymotion,
	domain.CategoryTwitch,
}

// compiled once; the classifier only selects which ones to evaluate
var categoryPatterns = compileCategoryPatterns()

func compileCategoryPatterns() map[domain.SiteCategory]*regexp.Regexp {
	patterns := make(map[domain.SiteCategory]*regexp.Regexp, len(categoryHosts))
	for category, hosts := range categoryHosts {
		patterns[category] = regexp.MustCompile(hostPattern(hosts))
	}
	return patterns
}

// hostPattern anchors on a lower-case http(s) scheme, allows any subdomain
// prefix and an optional port, and requires the host to end there.
func hostPattern(hosts []string) string {
	quoted := make([]string, len(hosts))
	for i, h := range hosts {
		quoted[i] = regexp.QuoteMeta(h)
	}
	return `^https?://([^/?#@]*\.)?(` + strings.Join(quoted, "|") + `)(:[0-9]+)?([/?#]|$)`
}

// Match describes why a URL was accepted
type Match struct {
	Category domain.SiteCategory
	// Rule is the custom domain entry for CategoryCustom, empty otherwise
	Rule string
}

// Classifier decides whether a URL is eligible for interception.
// It is immutable and safe for concurrent use.
type Classifier struct {
	categories    []domain.SiteCategory
	customDomains []string
}

// NewClassifier creates a Classifier for the enabled website categories
func NewClassifier(websites domain.WebsiteSet) *Classifier {
	c := &Classifier{}
	for _, category := range builtinCategories {
		if websites.Enabled(category) {
			c.categories = append(c.categories, category)
		}
	}
	for _, d := range websites.CustomDomains {
		if d = strings.TrimSpace(d); d != "" {
			c.customDomains = append(c.customDomains, d)
		}
	}
	return c
}

// Classify evaluates every enabled category and reports the first match in
// category order. Custom domains are matched as plain substrings of the
// full URL, not just the host.
func (c *Classifier) Classify(url string) (Match, bool) {
	matches := make([]Match, 0, 1)

	for _, category := range c.categories {
		if categoryPatterns[category].MatchString(url) {
			matches = append(matches, Match{Category: category})
		}
	}
	for _, d := range c.customDomains {
		if strings.Contains(url, d) {
			matches = append(matches, Match{Category: domain.CategoryCustom, Rule: d})
		}
	}

	if len(matches) == 0 {
		return Match{Category: domain.CategoryNone}, false
	}
	return matches[0], true
}

// IsSupported returns true if any enabled category matches url
func (c *Classifier) IsSupported(url string) bool {
	_, ok := c.Classify(url)
	return ok
}

// Categories returns the enabled built-in categories in evaluation order
func (c *Classifier) Categories() []domain.SiteCategory {
	out := make([]domain.SiteCategory, len(c.categories))
	copy(out, c.categories)
	return out
}

// IsSupported reports whether url is eligible under websites.
func IsSupported(url string, websites domain.WebsiteSet) bool {
	return NewClassifier(websites).IsSupported(url)
}
