package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShippingRegions(t *testing.T) {
	cases := []struct {
		country string
		want    []string
	}{
		{"GB", []string{"GB", "EU", "US", "AU", "CA"}},
		{"DE", []string{"EU", "GB", "US", "AU", "CA"}},
		{"FR", []string{"EU", "GB", "US", "AU", "CA"}},
		{"US", []string{"US", "GB", "EU", "AU", "CA"}},
		{"AU", []string{"AU", "GB", "EU", "US", "CA"}},
		{"CA", []string{"CA", "GB", "EU", "US", "AU"}},
		{"JP", []string{"GB", "EU", "US", "AU", "CA"}},
		{"", []string{"GB", "EU", "US", "AU", "CA"}},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ShippingRegions(tc.country), "country=%s", tc.country)
	}
}

func TestShippingRatesForCountrySkipsUnconfigured(t *testing.T) {
	rates := map[string]string{
		"GB": "shr_gb",
		"US": "shr_us",
	}

	got := ShippingRatesForCountry("US", rates)
	assert.Equal(t, []string{"shr_us", "shr_gb"}, got)

	assert.Empty(t, ShippingRatesForCountry("GB", map[string]string{}))
}

func TestDetectCountry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/81.2.69.142/country_code/", r.URL.Path)
		_, _ = w.Write([]byte("GB\n"))
	}))
	defer srv.Close()

	g := NewGeoLocator()
	g.baseURL = srv.URL

	assert.Equal(t, "GB", g.DetectCountry(context.Background(), "81.2.69.142"))
	assert.Equal(t, "", g.DetectCountry(context.Background(), ""))
}

func TestDetectCountryFailuresAreEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGeoLocator()
	g.baseURL = srv.URL
	assert.Equal(t, "", g.DetectCountry(context.Background(), "10.0.0.1"))

	// unreachable host
	g.baseURL = "http://127.0.0.1:1"
	assert.Equal(t, "", g.DetectCountry(context.Background(), "10.0.0.1"))
}
