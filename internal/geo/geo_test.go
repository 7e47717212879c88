// ABOUTME: Tests for the eligibility lookup against stubbed ViaCEP/Nominatim servers.
// ABOUTME: Covers distance math, radius decisions, and upstream error mapping.

package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeOrigin is the configured store location used across tests.
var storeOrigin = Coordinates{Lat: -22.87531, Lng: -43.46488}

func newStubClient(t *testing.T, cepHandler, geoHandler http.HandlerFunc) *Client {
	t.Helper()

	cepSrv := httptest.NewServer(cepHandler)
	t.Cleanup(cepSrv.Close)
	geoSrv := httptest.NewServer(geoHandler)
	t.Cleanup(geoSrv.Close)

	c := NewClient(storeOrigin, 4, time.Second, nil)
	c.viaCEPURL = cepSrv.URL
	c.geoURL = geoSrv.URL
	return c
}

func TestLookup_WithinRadius(t *testing.T) {
	c := newStubClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"logradouro":"Avenida de Santa Cruz","bairro":"Bangu","localidade":"Rio de Janeiro","uf":"RJ"}`)
		},
		func(w http.ResponseWriter, r *http.Request) {
			// A point roughly 2km east of the store
			fmt.Fprint(w, `[{"lat":"-22.87531","lon":"-43.44488"}]`)
		},
	)

	elig, err := c.Lookup(context.Background(), "21810025")
	require.NoError(t, err)
	assert.True(t, elig.WithinRadius)
	assert.InDelta(t, 2.0, elig.DistanceKm, 0.2)
	assert.Contains(t, elig.AddressSummary, "Bangu")
	assert.Contains(t, elig.AddressSummary, "RJ")
}

func TestLookup_OutsideRadius(t *testing.T) {
	c := newStubClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"logradouro":"Avenida Atlântica","bairro":"Copacabana","localidade":"Rio de Janeiro","uf":"RJ"}`)
		},
		func(w http.ResponseWriter, r *http.Request) {
			// Copacabana, ~27km from Bangu
			fmt.Fprint(w, `[{"lat":"-22.9714","lon":"-43.1823"}]`)
		},
	)

	elig, err := c.Lookup(context.Background(), "22021001")
	require.NoError(t, err)
	assert.False(t, elig.WithinRadius)
	assert.Greater(t, elig.DistanceKm, 4.0)
}

func TestLookup_CEPNotFound(t *testing.T) {
	c := newStubClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"erro": true}`)
		},
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("geocoder must not be called when the CEP is unknown")
		},
	)

	_, err := c.Lookup(context.Background(), "00000000")
	assert.ErrorIs(t, err, ErrCEPNotFound)
}

func TestLookup_NoCoordinates(t *testing.T) {
	c := newStubClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"logradouro":"Rua X","bairro":"Y","localidade":"Z","uf":"RJ"}`)
		},
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[]`)
		},
	)

	_, err := c.Lookup(context.Background(), "21810025")
	assert.ErrorIs(t, err, ErrNoCoordinates)
}

func TestLookup_UpstreamError(t *testing.T) {
	c := newStubClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		func(w http.ResponseWriter, r *http.Request) {},
	)

	_, err := c.Lookup(context.Background(), "21810025")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "viacep status 502")
}

func TestHaversine_KnownDistance(t *testing.T) {
	// Bangu to Copacabana is on the order of 28km
	d := haversineKm(storeOrigin, Coordinates{Lat: -22.9714, Lng: -43.1823})
	assert.InDelta(t, 30, d, 4)

	// Zero distance to itself
	assert.InDelta(t, 0, haversineKm(storeOrigin, storeOrigin), 0.001)
}
