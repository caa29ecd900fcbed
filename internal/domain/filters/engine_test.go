package filters_test

import (
	"testing"

	"fedibot/internal/domain/filters"
	"fedibot/internal/infra/config"
)

func newEngine(profiles map[string][]string) *filters.Engine {
	cfg := config.KeywordsFilter{Profiles: map[string]config.KeywordProfile{}}
	for name, keywords := range profiles {
		cfg.Profiles[name] = config.KeywordProfile{Keywords: keywords}
	}
	return filters.NewEngine(cfg)
}

func TestProfileAllows(t *testing.T) {
	t.Parallel()

	engine := newEngine(map[string][]string{
		"cats":     {"gat", "felí"},
		"rail":     {"tren", "ferrocarril"},
		"anything": {},
	})

	cases := []struct {
		name    string
		profile string
		text    string
		want    bool
	}{
		{name: "plainMatch", profile: "cats", text: "un gat al carrer", want: true},
		{name: "noMatch", profile: "cats", text: "un gos al carrer", want: false},
		{name: "accentFolded", profile: "cats", text: "Un FELÍ enorme", want: true},
		{name: "htmlStripped", profile: "rail", text: "<p>Nou <b>tren</b> nocturn</p>", want: true},
		{name: "keywordInsideTagDropped", profile: "rail", text: `<a href="tren.example">vaixell</a>`, want: false},
		{name: "dashAndDotRemoved", profile: "rail", text: "ferro-carril.", want: true},
		{name: "emptyProfileAllowsNothing", profile: "anything", text: "whatever", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := engine.ProfileAllows(tc.profile, tc.text)
			if err != nil {
				t.Fatalf("ProfileAllows: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ProfileAllows(%q, %q) = %v, want %v", tc.profile, tc.text, got, tc.want)
			}
		})
	}
}

func TestProfileAllowsUnknownProfile(t *testing.T) {
	t.Parallel()

	engine := newEngine(map[string][]string{"cats": {"gat"}})
	if _, err := engine.ProfileAllows("dogs", "text"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}
