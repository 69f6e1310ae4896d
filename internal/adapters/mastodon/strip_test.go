package mastodon

import "testing"

func TestStripHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "mention and command",
			in:   `<p><span class="h-card"><a href="https://example.social/@bot" class="u-url mention">@<span>bot</span></a></span> subscribe UCBJycsmduvYEL83R_U4JriQ</p>`,
			want: "@bot subscribe UCBJycsmduvYEL83R_U4JriQ",
		},
		{
			name: "paragraphs become newlines",
			in:   "<p>first</p><p>second</p>",
			want: "first\nsecond",
		},
		{
			name: "br variants",
			in:   "one<br>two<br/>three<BR />four",
			want: "one\ntwo\nthree\nfour",
		},
		{
			name: "entities unescaped",
			in:   "<p>Tom &amp; Jerry &lt;3</p>",
			want: "Tom & Jerry <3",
		},
		{
			name: "plain text untouched",
			in:   "ping",
			want: "ping",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripHTML(tc.in); got != tc.want {
				t.Fatalf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
