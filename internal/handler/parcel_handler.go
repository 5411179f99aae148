package handler

import (
	"encoding/json"
	"net/http"

	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/service"
	"go.uber.org/zap"
)

// ParcelHandler handles parcel record requests
type ParcelHandler struct {
	coordinator *service.CoordinatorService
	logger      *zap.Logger
}

// NewParcelHandler creates a new parcel handler
func NewParcelHandler(coordinator *service.CoordinatorService, logger *zap.Logger) *ParcelHandler {
	return &ParcelHandler{
		coordinator: coordinator,
		logger:      logger,
	}
}

type createParcelRequest struct {
	SurveyNumber   string  `json:"survey_number"`
	Classification string  `json:"classification"`
	AreaSqft       float64 `json:"area_sqft"`
	District       string  `json:"district"`
	State          string  `json:"state"`
	CurrentOwner   string  `json:"current_owner"`
}

// Create handles POST /v1/parcels
func (h *ParcelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createParcelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	classification := model.ParcelClassification(req.Classification)
	if !classification.Valid() {
		writeError(w, http.StatusBadRequest, "invalid classification")
		return
	}
	if req.SurveyNumber == "" || req.District == "" || req.State == "" {
		writeError(w, http.StatusBadRequest, "survey_number, district and state are required")
		return
	}
	if req.AreaSqft <= 0 {
		writeError(w, http.StatusBadRequest, "area_sqft must be positive")
		return
	}

	h.logger.Info("Received parcel creation request",
		zap.String("survey_number", req.SurveyNumber),
		zap.String("district", req.District))

	parcel, err := h.coordinator.CreateParcel(r.Context(), &model.Parcel{
		SurveyNumber:   req.SurveyNumber,
		Classification: classification,
		AreaSqft:       req.AreaSqft,
		District:       req.District,
		State:          req.State,
		CurrentOwner:   req.CurrentOwner,
	})
	if err != nil {
		h.logger.Error("Parcel creation failed",
			zap.String("survey_number", req.SurveyNumber),
			zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, parcel)
}

// Get handles GET /v1/parcels/{id}
func (h *ParcelHandler) Get(w http.ResponseWriter, r *http.Request) {
	parcelID := r.PathValue("id")

	parcel, err := h.coordinator.GetParcel(r.Context(), parcelID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, parcel)
}
