package domain

// SiteCategory is a group of websites that can be enabled for interception
type SiteCategory int

// Site categories, in evaluation order
const (
	CategoryNone SiteCategory = iota
	CategoryYouTube
	CategoryYouTubeAlternatives
	CategoryVimeo
	CategoryDailymotion
	CategoryTwitch
	CategoryCustom
)

// String returns the category's configuration key
func (c SiteCategory) String() string {
	switch c {
	case CategoryYouTube:
		return "youtube"
	case CategoryYouTubeAlternatives:
		return "youtube_alternatives"
	case CategoryVimeo:
		return "vimeo"
	case CategoryDailymotion:
		return "dailymotion"
	case CategoryTwitch:
		return "twitch"
	case CategoryCustom:
		return "custom"
	default:
		return "none"
	}
}

// WebsiteSet lists which site categories are eligible for interception
type WebsiteSet struct {
	YouTube             bool
	YouTubeAlternatives bool
	Vimeo               bool
	Dailymotion         bool
	Twitch              bool
	CustomDomains       []string
}

// Enabled reports whether the given built-in category is switched on.
// CategoryCustom is enabled when at least one custom domain is listed.
func (w WebsiteSet) Enabled(c SiteCategory) bool {
	switch c {
	case CategoryYouTube:
		return w.YouTube
	case CategoryYouTubeAlternatives:
		return w.YouTubeAlternatives
	case CategoryVimeo:
		return w.Vimeo
	case CategoryDailymotion:
		return w.Dailymotion
	case CategoryTwitch:
		return w.Twitch
	case CategoryCustom:
		return len(w.CustomDomains) > 0
	default:
		return false
	}
}
