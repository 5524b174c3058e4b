package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sitegate/internal/weather/models"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/geo"
)

const (
	userAgent      = "sitegate/1.0"
	defaultTimeout = 10 * time.Second
	// OpenWeather reports rain depth in millimetres.
	mmPerInch = 25.4
)

// openWeatherResponse is the subset of the current-weather payload we read.
// Imperial units are requested, so temp is already degF and wind mph.
type openWeatherResponse struct {
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Gust  float64 `json:"gust"`
	} `json:"wind"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
	Dt int64 `json:"dt"`
}

// OpenWeather fetches observations from an OpenWeather-compatible endpoint.
type OpenWeather struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewOpenWeather builds the provider. timeout bounds each fetch regardless of
// the caller's context.
func NewOpenWeather(endpoint, apiKey string, timeout time.Duration) *OpenWeather {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenWeather{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *OpenWeather) Name() string { return "openweather" }

// Fetch retrieves the current observation for a location. The response body
// is returned verbatim; normalization never discards it.
func (p *OpenWeather) Fetch(ctx context.Context, location geo.Point) (models.Observation, error) {
	if p.apiKey == "" {
		return models.Observation{}, dErrors.New(dErrors.CodeUnavailable, "weather API key not configured")
	}

	query := url.Values{}
	query.Set("lat", fmt.Sprintf("%.4f", location.Latitude))
	query.Set("lon", fmt.Sprintf("%.4f", location.Longitude))
	query.Set("appid", p.apiKey)
	query.Set("units", "imperial")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return models.Observation{}, fmt.Errorf("build weather request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return models.Observation{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "weather source unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Observation{}, dErrors.Newf(dErrors.CodeUnavailable, "weather source returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Observation{}, fmt.Errorf("read weather response: %w", err)
	}
	var payload openWeatherResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Observation{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "weather source returned malformed payload")
	}

	reading := models.Reading{
		WindSpeedMph:    payload.Wind.Speed,
		WindGustMph:     payload.Wind.Gust,
		PrecipitationIn: payload.Rain.OneHour / mmPerInch,
		TempF:           payload.Main.Temp,
	}
	if len(payload.Weather) > 0 {
		reading.Conditions = payload.Weather[0].Description
	}
	return models.Observation{Reading: reading, Raw: body}, nil
}
