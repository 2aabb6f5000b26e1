package router

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// faceMarkup matches the legacy ["face",N] token and OneBot's [CQ:face,id=N].
var faceMarkup = regexp.MustCompile(`\["face",[0-9]+\]|\[CQ:face,id=[0-9]+[^\]]*\]`)

var questionMarkers = []string{"?", "？", "问"}

const minQuestionRunes = 6

// StripFaces removes face/emoji markup tokens.
func StripFaces(s string) string {
	return faceMarkup.ReplaceAllString(s, "")
}

// ShouldAnswer reports whether a group message merits a reply: it names the
// bot, or it is longer than six characters and looks like a question.
func ShouldAnswer(content, botName string) bool {
	if botName != "" && strings.Contains(content, botName) {
		return true
	}
	if utf8.RuneCountInString(content) <= minQuestionRunes {
		return false
	}
	for _, m := range questionMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}

// MatchKeyword returns the first keyword, in configured order, contained in
// content ignoring case.
func MatchKeyword(content string, keywords []string) (string, bool) {
	lc := strings.ToLower(content)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lc, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// KeywordAnswer fills {keyword} in template with the query-escaped keyword.
func KeywordAnswer(template, keyword string) string {
	return strings.ReplaceAll(template, "{keyword}", url.QueryEscape(keyword))
}

// ParseKeywords splits a comma list and drops blanks.
func ParseKeywords(s string) []string {
	var out []string
	for _, kw := range strings.Split(s, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// ParseAds splits the #-delimited advertisement config and appends the intro.
func ParseAds(s, intro string) []string {
	var out []string
	if strings.TrimSpace(s) != "" {
		for _, ad := range strings.Split(s, "#") {
			if ad = strings.TrimSpace(ad); ad != "" {
				out = append(out, ad)
			}
		}
	}
	if intro != "" {
		out = append(out, intro)
	}
	return out
}
