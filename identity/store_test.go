package identity

import (
	"errors"
	"testing"

	"price_tracker/models"
)

func TestDetectStore(t *testing.T) {
	cases := []struct {
		url  string
		want models.StoreID
	}{
		{"https://articulo.mercadolibre.com.pe/MPE-123456-televisor", models.StoreMercadoLibre},
		{"https://www.MercadoLibre.com.pe/p/MPE999", models.StoreMercadoLibre},
		{"https://www.lacuracao.pe/laptop-hp.html", models.StoreLaCuracao},
		{"https://www.falabella.com.pe/falabella-pe/product/1", models.StoreFalabella},
		{"https://simple.ripley.com.pe/celular-2", models.StoreRipley},
	}

	for _, tc := range cases {
		got, err := DetectStore(tc.url)
		if err != nil {
			t.Fatalf("detect %s: %v", tc.url, err)
		}
		if got != tc.want {
			t.Fatalf("detect %s: expected %s, got %s", tc.url, tc.want, got)
		}
	}
}

func TestDetectStore_MatchesHostOnly(t *testing.T) {
	_, err := DetectStore("https://example.com/redirect?to=mercadolibre")
	if !errors.Is(err, ErrUnrecognizedStore) {
		t.Fatalf("expected ErrUnrecognizedStore, got %v", err)
	}
}

func TestNormalizeURL(t *testing.T) {
	got, err := NormalizeURL("  https://www.lacuracao.pe/tv.html ")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if got != "https://www.lacuracao.pe/tv.html" {
		t.Fatalf("unexpected normalized url %q", got)
	}

	for _, bad := range []string{"", "www.lacuracao.pe/tv.html", "ftp://lacuracao.pe/x", "https://"} {
		if _, err := NormalizeURL(bad); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("expected ErrInvalidURL for %q, got %v", bad, err)
		}
	}
}
