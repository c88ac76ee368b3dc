package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	geocoding "github.com/codingsince1985/geo-golang"
	"github.com/codingsince1985/geo-golang/openstreetmap"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Nominatim resolves locations with OpenStreetMap: a forward search for coordinates,
// then a reverse lookup for the address and its country. The public instance allows
// one request per second; pace callers accordingly.
type Nominatim struct {
	BaseURL string

	geocoder geocoding.Geocoder
}

// NewNominatim returns a resolver for the instance at baseURL (DefaultNominatimURL when
// empty).
func NewNominatim(baseURL string) *Nominatim {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultNominatimURL
	}
	return &Nominatim{BaseURL: base, geocoder: openstreetmap.GeocoderWithURL(base + "/")}
}

func (n *Nominatim) Resolve(ctx context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", ErrNotFound
	}
	g := n.geocoder
	if g == nil {
		g = NewNominatim(n.BaseURL).geocoder
	}

	// The geocoder takes no context; check between the two requests instead.
	if err := ctx.Err(); err != nil {
		return "", err
	}
	loc, err := g.Geocode(location)
	if err != nil {
		return "", classifyGeocodeErr("search", err)
	}
	if loc == nil {
		return "", ErrNotFound
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	addr, err := g.ReverseGeocode(loc.Lat, loc.Lng)
	if err != nil {
		return "", classifyGeocodeErr("reverse", err)
	}
	if addr == nil {
		return "", ErrNotFound
	}
	code := strings.ToLower(strings.TrimSpace(addr.CountryCode))
	if code == "" {
		return "", ErrNotFound
	}
	return code, nil
}

// classifyGeocodeErr keeps every geocoder failure retryable. Throttled and failing
// instances answer with non-JSON bodies, which surface here as decode errors, so those
// get one extra attempt rather than the full retry budget.
func classifyGeocodeErr(op string, err error) error {
	wrapped := fmt.Errorf("nominatim %s: %w", op, err)
	if errors.Is(err, geocoding.ErrTimeout) {
		return &core.TransientError{Err: wrapped}
	}
	return &core.LimitedTransientError{Err: wrapped, ExtraRetries: 1}
}
