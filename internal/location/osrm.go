package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-session/internal/models"
)

// ErrNoRoute is returned when the routing engine finds no path.
var ErrNoRoute = errors.New("osrm: no route")

// OSRMClient estimates driving time with an OSRM server's route service.
type OSRMClient struct {
	BaseURL string
	Profile string
	Timeout time.Duration
	HTTP    *http.Client
}

func NewOSRMClient(baseURL string) *OSRMClient {
	return &OSRMClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Profile: "driving",
		Timeout: 2 * time.Second,
		HTTP:    http.DefaultClient,
	}
}

type osrmRouteResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
	} `json:"routes"`
}

func (o *OSRMClient) EstimateSeconds(from, to models.Coord) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.Timeout)
	defer cancel()

	// Coordinates are lon,lat.
	u := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=false",
		o.BaseURL, o.Profile, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("osrm route: %w", err)
	}
	defer resp.Body.Close()

	var out osrmRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("osrm route: status %d: %w", resp.StatusCode, err)
	}
	switch {
	case out.Code == "NoRoute" || (out.Code == "Ok" && len(out.Routes) == 0):
		return 0, ErrNoRoute
	case out.Code != "Ok":
		return 0, fmt.Errorf("osrm route: %s: %s", out.Code, out.Message)
	}
	return out.Routes[0].Duration, nil
}
