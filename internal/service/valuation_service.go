package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/metrics"
	"github.com/abhijithns29/propchain-engine/internal/model"
	"go.uber.org/zap"
)

// ValuationService consults the land-price prediction service during sale
// validation. An amount far outside the predicted band is flagged for review;
// valuation never blocks a transaction and any prediction failure is treated
// as "no opinion".
type ValuationService struct {
	endpoint   string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewValuationService creates a new valuation service
func NewValuationService(endpoint string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *ValuationService {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &ValuationService{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
		logger:     logger,
	}
}

type predictionRequest struct {
	AreaSqft float64 `json:"area_sqft"`
	District string  `json:"district"`
	State    string  `json:"state"`
	LandType string  `json:"land_type"`
}

type predictionResponse struct {
	PredictedPrice     float64 `json:"predicted_price"`
	PricePerSqft       float64 `json:"price_per_sqft"`
	ConfidenceScore    float64 `json:"confidence_score"`
	ConfidenceInterval struct {
		Lower float64 `json:"lower"`
		Upper float64 `json:"upper"`
	} `json:"confidence_interval"`
}

// CheckAmount compares a sale amount against the predicted price band
func (s *ValuationService) CheckAmount(ctx context.Context, parcel *model.Parcel, amount int64) {
	prediction, err := s.predict(ctx, parcel)
	if err != nil {
		s.logger.Debug("Valuation unavailable",
			zap.String("parcel_id", parcel.ParcelID),
			zap.Error(err))
		return
	}

	lower := prediction.ConfidenceInterval.Lower / 2
	upper := prediction.ConfidenceInterval.Upper * 2

	if float64(amount) < lower || float64(amount) > upper {
		s.metrics.ValuationDeviations.Inc()
		s.logger.Warn("Sale amount outside predicted price band",
			zap.String("parcel_id", parcel.ParcelID),
			zap.Int64("amount", amount),
			zap.Float64("predicted_price", prediction.PredictedPrice),
			zap.Float64("band_lower", lower),
			zap.Float64("band_upper", upper),
			zap.Float64("confidence", prediction.ConfidenceScore))
	}
}

// predict calls the prediction service for a parcel
func (s *ValuationService) predict(ctx context.Context, parcel *model.Parcel) (*predictionResponse, error) {
	body, err := json.Marshal(predictionRequest{
		AreaSqft: parcel.AreaSqft,
		District: parcel.District,
		State:    parcel.State,
		LandType: string(parcel.Classification),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prediction service returned %d", resp.StatusCode)
	}

	var prediction predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}

	return &prediction, nil
}
