package manifest

import "testing"

func TestScan(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   string
	}{
		{
			name:   "plain source tag",
			markup: `<video><source src="https://cdn.example.com/hls/master.m3u8?token=abc"></video>`,
			want:   "https://cdn.example.com/hls/master.m3u8?token=abc",
		},
		{
			name:   "escaped slashes in script literal",
			markup: `var src = "https://cdn.example.com\/live\/index.m3u8";`,
			want:   "https://cdn.example.com/live/index.m3u8",
		},
		{
			name:   "first match wins",
			markup: `a http://one.example/a.m3u8 b https://two.example/b.m3u8`,
			want:   "http://one.example/a.m3u8",
		},
		{
			name:   "stops at single quote",
			markup: `file:'https://cdn.example.com/x.m3u8',`,
			want:   "https://cdn.example.com/x.m3u8",
		},
		{
			name:   "no manifest",
			markup: `<video src="https://cdn.example.com/movie.mp4"></video>`,
			want:   "",
		},
		{
			name:   "requires scheme",
			markup: `src="//cdn.example.com/x.m3u8"`,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Scan(tt.markup); got != tt.want {
				t.Errorf("Scan() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScan_Deterministic(t *testing.T) {
	markup := `jwplayer("p").setup({file:"https://cdn.example.com/v.m3u8?e=1"});`
	first := Normalize(Scan(markup))
	for i := 0; i < 10; i++ {
		if got := Normalize(Scan(markup)); got != first {
			t.Fatalf("run %d = %q, want %q", i, got, first)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`https://cdn.example.com/a.m3u8`, `https://cdn.example.com/a.m3u8`},
		{`https://cdn.example.com/a.m3u8","label":"HD`, `https://cdn.example.com/a.m3u8`},
		{`https://cdn.example.com/a.m3u8',x`, `https://cdn.example.com/a.m3u8`},
		{`https://cdn.example.com/a.m3u8,https://b`, `https://cdn.example.com/a.m3u8`},
		{`https://cdn.example.com/a.m3u8?x=1&y=2`, `https://cdn.example.com/a.m3u8?x=1&y=2`},
		{`https://cdn.example.com/a.m3u8\u0026x`, `https://cdn.example.com/a.m3u8`},
		{``, ``},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLooks(t *testing.T) {
	if !Looks("https://x/y.m3u8") {
		t.Error("expected manifest URL to match")
	}
	if Looks("https://x/y.mp4") {
		t.Error("mp4 should not match")
	}
}
