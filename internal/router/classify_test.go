package router

import "testing"

func TestStripFaces(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{`hi["face",14]there`, "hithere"},
		{`["face",1]["face",22]`, ""},
		{`[CQ:face,id=178]早`, "早"},
		{`[CQ:face,id=5,large=1] ok`, " ok"},
		{`plain`, "plain"},
		{`["face",x]`, `["face",x]`},
	}
	for _, tc := range tests {
		if got := StripFaces(tc.in); got != tc.want {
			t.Errorf("StripFaces(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestShouldAnswer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"names bot", "XiaoV", true},
		{"names bot in question", "XiaoV你好？", true},
		{"short question", "为什么呢？", false},
		{"six runes exactly", "一二三四五？", false},
		{"seven runes fullwidth", "一二三四五六？", true},
		{"ascii question", "how do I?", true},
		{"ask keyword", "请教一个问题大家", true},
		{"long statement", "今天天气真不错啊朋友们", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldAnswer(tc.content, "XiaoV"); got != tc.want {
				t.Fatalf("ShouldAnswer(%q) = %v, want %v", tc.content, got, tc.want)
			}
		})
	}
}

func TestMatchKeywordFirstWinsIgnoringCase(t *testing.T) {
	t.Parallel()
	kws := ParseKeywords(" Java , golang,, Go ")
	if len(kws) != 3 {
		t.Fatalf("ParseKeywords = %q", kws)
	}

	kw, ok := MatchKeyword("who knows GOLANG and java?", kws)
	if !ok || kw != "Java" {
		t.Fatalf("MatchKeyword = (%q, %v), want Java (configured first)", kw, ok)
	}
	kw, ok = MatchKeyword("i like GoLang", kws)
	if !ok || kw != "golang" {
		t.Fatalf("MatchKeyword = (%q, %v), want golang", kw, ok)
	}
	if _, ok := MatchKeyword("rust", kws); ok {
		t.Fatal("unexpected match")
	}
}

func TestKeywordAnswerEscapes(t *testing.T) {
	t.Parallel()
	got := KeywordAnswer("see https://hacpai.com/search?key={keyword}", "C++ 语言")
	want := "see https://hacpai.com/search?key=C%2B%2B+%E8%AF%AD%E8%A8%80"
	if got != want {
		t.Fatalf("KeywordAnswer = %q, want %q", got, want)
	}
}

func TestParseAds(t *testing.T) {
	t.Parallel()
	got := ParseAds("a# b #", "intro")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "intro" {
		t.Fatalf("ParseAds = %q", got)
	}
	if got := ParseAds("", "intro"); len(got) != 1 {
		t.Fatalf("ParseAds(empty) = %q", got)
	}
}
