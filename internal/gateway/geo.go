package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"payment-gateway/internal/util"

	"go.uber.org/zap"
)

var europeanCountries = []string{
	"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR", "DE", "GR", "HU",
	"IE", "IT", "LV", "LT", "LU", "MT", "NL", "PL", "PT", "RO", "SK", "SI", "ES", "SE",
}

// AllowedShippingCountries returns every country the store ships to.
func AllowedShippingCountries() []string {
	countries := []string{"GB", "US", "AU", "CA"}
	return append(countries, europeanCountries...)
}

// ShippingRegions orders the shipping regions for a buyer country, local
// region first. Unknown countries fall back to the GB-first ordering.
func ShippingRegions(country string) []string {
	switch {
	case country == "GB":
		return []string{"GB", "EU", "US", "AU", "CA"}
	case isEuropean(country):
		return []string{"EU", "GB", "US", "AU", "CA"}
	case country == "US":
		return []string{"US", "GB", "EU", "AU", "CA"}
	case country == "AU":
		return []string{"AU", "GB", "EU", "US", "CA"}
	case country == "CA":
		return []string{"CA", "GB", "EU", "US", "AU"}
	default:
		return []string{"GB", "EU", "US", "AU", "CA"}
	}
}

// ShippingRatesForCountry maps the ordered regions to configured shipping
// rate ids, skipping regions with no rate configured.
func ShippingRatesForCountry(country string, rates map[string]string) []string {
	regions := ShippingRegions(country)
	out := make([]string, 0, len(regions))
	for _, region := range regions {
		if rate := rates[region]; rate != "" {
			out = append(out, rate)
		}
	}
	return out
}

func isEuropean(country string) bool {
	for _, c := range europeanCountries {
		if c == country {
			return true
		}
	}
	return false
}

// GeoLocator resolves a client IP to a two-letter country code through
// ipapi.co. Lookups are best-effort: any failure yields an empty country
// and the default shipping ordering.
type GeoLocator struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewGeoLocator() *GeoLocator {
	return &GeoLocator{
		baseURL:    "https://ipapi.co",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     util.GetLogger(),
	}
}

// DetectCountry returns the uppercase ISO country code for ip, or "" when
// the lookup fails or the ip is empty/local.
func (g *GeoLocator) DetectCountry(ctx context.Context, ip string) string {
	if ip == "" {
		return ""
	}

	url := fmt.Sprintf("%s/%s/country_code/", g.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("Country detection failed", zap.String("ip", ip), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("Country detection returned non-200",
			zap.String("ip", ip),
			zap.Int("status", resp.StatusCode))
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return ""
	}

	country := strings.ToUpper(strings.TrimSpace(string(body)))
	if len(country) != 2 {
		return ""
	}
	return country
}
