package service

import (
	"testing"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
)

func defaultWebsites() domain.WebsiteSet {
	return domain.WebsiteSet{YouTube: true, YouTubeAlternatives: true}
}

func TestClassifier_Defaults(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "youtube watch", url: "https://www.youtube.com/watch?v=x", want: true},
		{name: "youtube bare host", url: "https://youtube.com/watch?v=x", want: true},
		{name: "youtube mobile", url: "https://m.youtube.com/watch?v=x", want: true},
		{name: "short link", url: "https://youtu.be/dQw4w9WgXcQ", want: true},
		{name: "media cdn", url: "https://rr3---sn-abc.googlevideo.com/videoplayback?itag=22", want: true},
		{name: "media cdn lookalike", url: "https://notgooglevideo.com/videoplayback", want: false},
		{name: "http scheme", url: "http://www.youtube.com/", want: true},
		{name: "with port", url: "https://www.youtube.com:443/watch", want: true},
		{name: "host only", url: "https://youtube.com", want: true},
		{name: "alternative front-end", url: "https://yewtu.be/watch?v=x", want: true},
		{name: "nocookie embed", url: "https://www.youtube-nocookie.com/embed/x", want: true},
		{name: "vimeo disabled by default", url: "https://vimeo.com/1", want: false},
		{name: "twitch disabled by default", url: "https://www.twitch.tv/x", want: false},
		{name: "lookalike host", url: "https://notyoutube.com/watch", want: false},
		{name: "domain as path", url: "https://evil.example/youtube.com/watch", want: false},
		{name: "domain as suffix label", url: "https://youtube.com.evil.example/", want: false},
		{name: "upper case scheme", url: "HTTPS://www.youtube.com/", want: false},
		{name: "other scheme", url: "ftp://youtube.com/", want: false},
		{name: "empty", url: "", want: false},
	}

	c := NewClassifier(defaultWebsites())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsSupported(tt.url); got != tt.want {
				t.Errorf("IsSupported(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestClassifier_CategoryToggles(t *testing.T) {
	tests := []struct {
		name     string
		websites domain.WebsiteSet
		url      string
		want     domain.SiteCategory
	}{
		{name: "vimeo", websites: domain.WebsiteSet{Vimeo: true}, url: "https://vimeo.com/1", want: domain.CategoryVimeo},
		{name: "vimeo cdn", websites: domain.WebsiteSet{Vimeo: true}, url: "https://skyfire.vimeocdn.com/x", want: domain.CategoryVimeo},
		{name: "dailymotion", websites: domain.WebsiteSet{Dailymotion: true}, url: "https://www.dailymotion.com/video/x", want: domain.CategoryDailymotion},
		{name: "twitch", websites: domain.WebsiteSet{Twitch: true}, url: "https://www.twitch.tv/stream", want: domain.CategoryTwitch},
		{name: "twitch edge", websites: domain.WebsiteSet{Twitch: true}, url: "https://video-edge.abc.ttvnw.net/v1/segment", want: domain.CategoryTwitch},
		{name: "youtube only", websites: domain.WebsiteSet{YouTube: true}, url: "https://www.youtube.com/", want: domain.CategoryYouTube},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := NewClassifier(tt.websites).Classify(tt.url)
			if !ok {
				t.Fatalf("Classify(%q) not matched", tt.url)
			}
			if m.Category != tt.want {
				t.Errorf("Category = %v, want %v", m.Category, tt.want)
			}
		})
	}
}

func TestClassifier_EnablingVimeoFlipsResult(t *testing.T) {
	websites := defaultWebsites()
	url := "https://vimeo.com/1"

	if IsSupported(url, websites) {
		t.Fatal("vimeo should not match with default websites")
	}

	websites.Vimeo = true
	if !IsSupported(url, websites) {
		t.Error("vimeo should match once enabled")
	}
}

func TestClassifier_DisabledYouTube(t *testing.T) {
	c := NewClassifier(domain.WebsiteSet{})
	if c.IsSupported("https://www.youtube.com/watch?v=x") {
		t.Error("nothing enabled should match nothing")
	}
	if len(c.Categories()) != 0 {
		t.Errorf("Categories() = %v, want empty", c.Categories())
	}
}

func TestClassifier_CustomDomains(t *testing.T) {
	tests := []struct {
		name     string
		domains  []string
		url      string
		want     bool
		wantRule string
	}{
		{name: "subdomain", domains: []string{"mysite.com"}, url: "https://video.mysite.com/x", want: true, wantRule: "mysite.com"},
		{name: "second entry", domains: []string{"a.example", "googlevideo.com"}, url: "https://rr1.googlevideo.com/videoplayback", want: true, wantRule: "googlevideo.com"},
		{name: "no match", domains: []string{"mysite.com"}, url: "https://other.example/x", want: false},
		// substring search over the full URL also matches query parameters
		{name: "matches inside query", domains: []string{"mysite.com"}, url: "https://other.example/?ref=mysite.com", want: true, wantRule: "mysite.com"},
		{name: "blank entries ignored", domains: []string{"  ", ""}, url: "https://other.example/", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := NewClassifier(domain.WebsiteSet{CustomDomains: tt.domains}).Classify(tt.url)
			if ok != tt.want {
				t.Fatalf("Classify(%q) ok = %v, want %v", tt.url, ok, tt.want)
			}
			if !ok {
				if m.Category != domain.CategoryNone {
					t.Errorf("Category = %v, want none", m.Category)
				}
				return
			}
			if m.Category != domain.CategoryCustom {
				t.Errorf("Category = %v, want custom", m.Category)
			}
			if m.Rule != tt.wantRule {
				t.Errorf("Rule = %q, want %q", m.Rule, tt.wantRule)
			}
		})
	}
}

func TestClassifier_BuiltinWinsOverCustom(t *testing.T) {
	c := NewClassifier(domain.WebsiteSet{YouTube: true, CustomDomains: []string{"youtube"}})
	m, ok := c.Classify("https://www.youtube.com/watch")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Category != domain.CategoryYouTube {
		t.Errorf("Category = %v, want youtube", m.Category)
	}
}
