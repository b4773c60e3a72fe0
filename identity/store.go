package identity

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"price_tracker/models"
)

var (
	ErrInvalidURL        = errors.New("invalid product url")
	ErrUnrecognizedStore = errors.New("unrecognized store")
)

// hostMarkers maps a host substring to its store. Order matters: first match wins.
var hostMarkers = []struct {
	marker string
	store  models.StoreID
}{
	{"mercadolibre", models.StoreMercadoLibre},
	{"lacuracao", models.StoreLaCuracao},
	{"falabella", models.StoreFalabella},
	{"ripley", models.StoreRipley},
}

// NormalizeURL trims the raw input and checks it is an absolute http(s) URL.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return raw, nil
}

// DetectStore resolves the store from the URL host. The result is empty with
// ErrUnrecognizedStore when no known store matches.
func DetectStore(rawURL string) (models.StoreID, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	host := strings.ToLower(u.Hostname())
	for _, m := range hostMarkers {
		if strings.Contains(host, m.marker) {
			return m.store, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnrecognizedStore, host)
}
