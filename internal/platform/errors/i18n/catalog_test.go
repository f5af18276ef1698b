package i18n

import "testing"

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog(BaseLocale)
	if base == nil {
		t.Fatal("expected base catalog")
	}
	if fallback := GetCatalog("missing-locale"); fallback != base {
		t.Fatal("expected fallback to en-US catalog")
	}
}

func TestMatchAcceptLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", "en-US"},
		{"pt-BR,pt;q=0.9,en;q=0.8", "pt-BR"},
		{"pt", "pt-BR"},
		{"en-GB", "en-US"},
		{"ja", "en-US"},
		{";;;", "en-US"},
	}
	for _, tt := range tests {
		if got := MatchAcceptLanguage(tt.header); got != tt.want {
			t.Fatalf("MatchAcceptLanguage(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestFormatRendersMetadata(t *testing.T) {
	got := GetCatalog("en-US").Format("CARD_TEXT_TOO_LONG", map[string]string{"MaxRunes": "2000"})
	if got != "Card text must be at most 2000 characters." {
		t.Fatalf("format = %q", got)
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code":   "hello {{.Name}}",
		"broken": "{{ if .Name }}",
	})

	if cat.Format("unknown", nil) != "unknown" {
		t.Fatal("expected code fallback when template missing")
	}
	if got := cat.Format("code", nil); got != "hello " {
		t.Fatalf("expected missing metadata to render empty, got %q", got)
	}
	if cat.Format("broken", map[string]string{"Name": "X"}) != "{{ if .Name }}" {
		t.Fatal("expected template fallback on parse error")
	}
}

func TestCatalogsCoverSameCodes(t *testing.T) {
	for code := range enUSMessages {
		if _, ok := ptBRMessages[code]; !ok {
			t.Fatalf("pt-BR catalog missing %s", code)
		}
	}
	if len(enUSMessages) != len(ptBRMessages) {
		t.Fatalf("catalog sizes differ: en-US=%d pt-BR=%d", len(enUSMessages), len(ptBRMessages))
	}
}
