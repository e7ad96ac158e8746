package emoji

import (
	"reflect"
	"testing"
)

func TestParseReferences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"curly", "hello {party} and {wave}", []string{"party", "wave"}},
		{"platform", "nice <:blob:123> <a:dance:456>", []string{"blob", "dance"}},
		{"colon", "so :kek: :kek:", []string{"kek"}},
		{"mixed dedup", "{wave} <:wave:1> :party:", []string{"wave", "party"}},
		{"clock is not an emoji", "meet at 10:30:45", nil},
		{"none", "plain text", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseReferences(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseReferences(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestReplaceTags(t *testing.T) {
	inv := []Emoji{
		{GuildID: "g", ID: "1", Name: "wave"},
		{GuildID: "g", ID: "2", Name: "dance", Animated: true},
		{GuildID: "g", Name: "noid"},
	}
	got := ReplaceTags("{wave} {dance} {noid} {missing}", inv)
	want := "<:wave:1> <a:dance:2> {noid} {missing}"
	if got != want {
		t.Fatalf("ReplaceTags() = %q, want %q", got, want)
	}
}

func TestFormatPromptLines(t *testing.T) {
	got := FormatPromptLines([]Described{
		{Name: "wave", Description: "a waving hand "},
		{Name: "", Description: "skipped"},
		{Name: "party", Description: "Custom server emoji: party"},
	})
	want := "- {wave}: a waving hand\n- {party}: Custom server emoji: party"
	if got != want {
		t.Fatalf("FormatPromptLines() = %q, want %q", got, want)
	}
}
