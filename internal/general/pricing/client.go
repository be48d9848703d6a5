package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
)

// Client queries the external pricing service for fare estimates. Callers
// treat a failed estimate as a degraded request, never a rejected one.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// NewClient builds a pricing client with the configured timeout.
func NewClient(cfg config.Pricing, log *logger.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

type estimateRequest struct {
	PickupLat      float64 `json:"pickup_lat"`
	PickupLng      float64 `json:"pickup_lng"`
	DestinationLat float64 `json:"destination_lat"`
	DestinationLng float64 `json:"destination_lng"`
	VehicleType    string  `json:"vehicle_type"`
}

type estimateResponse struct {
	DistanceKM      float64 `json:"distance_km"`
	DurationMinutes int     `json:"duration_minutes"`
	FareMin         float64 `json:"fare_min"`
	FareMax         float64 `json:"fare_max"`
}

// EstimateFare asks the pricing service for a fare band on the route.
func (c *Client) EstimateFare(ctx context.Context, pickup, destination ride.GeoPoint, vt ride.VehicleType) (*ride.FareEstimate, error) {
	payload, err := json.Marshal(estimateRequest{
		PickupLat:      pickup.Latitude,
		PickupLng:      pickup.Longitude,
		DestinationLat: destination.Latitude,
		DestinationLng: destination.Longitude,
		VehicleType:    vt.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("pricing: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/estimates", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("pricing: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricing: call estimate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricing: unexpected status %d", resp.StatusCode)
	}

	var out estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("pricing: decode response: %w", err)
	}

	return &ride.FareEstimate{
		DistanceKM:      out.DistanceKM,
		DurationMinutes: out.DurationMinutes,
		FareMin:         out.FareMin,
		FareMax:         out.FareMax,
	}, nil
}
