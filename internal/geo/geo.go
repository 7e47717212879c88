// ABOUTME: Delivery-eligibility lookup: resolves a CEP to coordinates and distance.
// ABOUTME: ViaCEP for the address, Nominatim for geocoding, haversine for the distance.

package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"
)

// ErrCEPNotFound indicates ViaCEP has no record for the code.
var ErrCEPNotFound = errors.New("cep not found")

// ErrNoCoordinates indicates the resolved address could not be geocoded.
var ErrNoCoordinates = errors.New("coordinates not found")

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64
	Lng float64
}

// Eligibility is the outcome of a delivery lookup for one location code.
type Eligibility struct {
	AddressSummary string
	DistanceKm     float64
	WithinRadius   bool
}

// Lookup resolves a normalized 8-digit location code into delivery eligibility.
type Lookup interface {
	Lookup(ctx context.Context, locationCode string) (*Eligibility, error)
}

// Client implements Lookup against the public ViaCEP and Nominatim APIs.
type Client struct {
	http      *http.Client
	origin    Coordinates
	radiusKm  float64
	userAgent string
	viaCEPURL string
	geoURL    string
	logger    *slog.Logger
}

// NewClient builds a lookup client anchored at the store's coordinates.
// All HTTP calls share one 10-second-timeout client so a stalled dependency
// cannot wedge a conversation.
func NewClient(origin Coordinates, radiusKm float64, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		origin:    origin,
		radiusKm:  radiusKm,
		userAgent: "donafarma-dispatch/1.0 (contato@donafarma.com.br)",
		viaCEPURL: "https://viacep.com.br/ws",
		geoURL:    "https://nominatim.openstreetmap.org/search",
		logger:    logger.With("component", "geo"),
	}
}

type viaCEPResponse struct {
	Logradouro string `json:"logradouro"`
	Bairro     string `json:"bairro"`
	Localidade string `json:"localidade"`
	UF         string `json:"uf"`
	Erro       bool   `json:"erro"`
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Lookup resolves the location code. Both eligible and ineligible customers
// get a result; only WithinRadius differs.
func (c *Client) Lookup(ctx context.Context, locationCode string) (*Eligibility, error) {
	addr, err := c.resolveAddress(ctx, locationCode)
	if err != nil {
		return nil, err
	}

	point, err := c.geocode(ctx, addr)
	if err != nil {
		return nil, err
	}

	distance := haversineKm(c.origin, point)
	elig := &Eligibility{
		AddressSummary: fmt.Sprintf("%s, %s, %s - %s", addr.Logradouro, addr.Bairro, addr.Localidade, addr.UF),
		DistanceKm:     math.Round(distance*10) / 10,
		WithinRadius:   distance <= c.radiusKm,
	}

	c.logger.Debug("eligibility resolved",
		"cep", locationCode,
		"distance_km", elig.DistanceKm,
		"within_radius", elig.WithinRadius,
	)
	return elig, nil
}

func (c *Client) resolveAddress(ctx context.Context, cep string) (*viaCEPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/json/", c.viaCEPURL, cep), nil)
	if err != nil {
		return nil, fmt.Errorf("building viacep request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying viacep: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("viacep status %d", resp.StatusCode)
	}

	var addr viaCEPResponse
	if err := json.NewDecoder(resp.Body).Decode(&addr); err != nil {
		return nil, fmt.Errorf("decoding viacep response: %w", err)
	}
	if addr.Erro {
		return nil, ErrCEPNotFound
	}
	return &addr, nil
}

func (c *Client) geocode(ctx context.Context, addr *viaCEPResponse) (Coordinates, error) {
	query := url.Values{
		"q":            {fmt.Sprintf("%s, %s, %s, %s, Brasil", addr.Logradouro, addr.Bairro, addr.Localidade, addr.UF)},
		"format":       {"json"},
		"limit":        {"1"},
		"countrycodes": {"br"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.geoURL+"?"+query.Encode(), nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("building geocode request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("querying geocoder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("geocoder status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Coordinates{}, fmt.Errorf("decoding geocode response: %w", err)
	}
	if len(results) == 0 {
		return Coordinates{}, ErrNoCoordinates
	}

	var point Coordinates
	if _, err := fmt.Sscanf(results[0].Lat, "%f", &point.Lat); err != nil {
		return Coordinates{}, fmt.Errorf("parsing latitude %q: %w", results[0].Lat, err)
	}
	if _, err := fmt.Sscanf(results[0].Lon, "%f", &point.Lng); err != nil {
		return Coordinates{}, fmt.Errorf("parsing longitude %q: %w", results[0].Lon, err)
	}
	return point, nil
}

// haversineKm returns the great-circle distance between two points.
func haversineKm(a, b Coordinates) float64 {
	const earthRadiusKm = 6371

	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}
