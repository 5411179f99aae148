package model

import "time"

// ParcelClassification represents the land-use classification of a parcel
type ParcelClassification string

const (
	// ClassificationAgricultural represents agricultural land
	ClassificationAgricultural ParcelClassification = "agricultural"
	// ClassificationResidential represents residential land
	ClassificationResidential ParcelClassification = "residential"
	// ClassificationCommercial represents commercial land
	ClassificationCommercial ParcelClassification = "commercial"
	// ClassificationIndustrial represents industrial land
	ClassificationIndustrial ParcelClassification = "industrial"
)

// Valid reports whether the classification is a known value
func (c ParcelClassification) Valid() bool {
	switch c {
	case ClassificationAgricultural, ClassificationResidential,
		ClassificationCommercial, ClassificationIndustrial:
		return true
	default:
		return false
	}
}

// ParcelStatus represents the lifecycle status of a parcel
type ParcelStatus string

const (
	// ParcelAvailable indicates the parcel has no transaction in flight
	ParcelAvailable ParcelStatus = "AVAILABLE"
	// ParcelListed indicates the parcel has a sale or transfer in flight
	ParcelListed ParcelStatus = "LISTED"
	// ParcelSold indicates the parcel ownership changed in the last finalized transaction
	ParcelSold ParcelStatus = "SOLD"
	// ParcelDisputed indicates off-chain and on-chain state diverged; frozen for operators
	ParcelDisputed ParcelStatus = "DISPUTED"
)

// LedgerAnchor binds an off-chain record to a confirmed on-chain fact.
// Owned by the Parcel or TransactionRecord that embeds it, never shared.
type LedgerAnchor struct {
	TxHash        string `json:"tx_hash,omitempty"`
	BlockHeight   int64  `json:"block_height,omitempty"`
	Confirmations int64  `json:"confirmations,omitempty"`
}

// Confirmed reports whether the anchor points at a confirmed on-chain transaction
func (a LedgerAnchor) Confirmed() bool {
	return a.TxHash != "" && a.BlockHeight > 0
}

// Parcel represents a registered land unit
type Parcel struct {
	ParcelID       string               `json:"parcel_id"`
	SurveyNumber   string               `json:"survey_number"`
	Classification ParcelClassification `json:"classification"`
	AreaSqft       float64              `json:"area_sqft"`
	District       string               `json:"district"`
	State          string               `json:"state"`
	Status         ParcelStatus         `json:"status"`
	CurrentOwner   string               `json:"current_owner"`
	PreviousOwners []string             `json:"previous_owners,omitempty"` // append-only, oldest first
	OnChainID      int64                `json:"on_chain_id,omitempty"`     // ledger-assigned numeric id, 0 until registered
	Anchor         LedgerAnchor         `json:"anchor"`

	// ActiveTransactionID is the compare-and-set lock enforcing at most one
	// non-terminal transaction per parcel. Empty when the parcel is unlocked.
	ActiveTransactionID string `json:"active_transaction_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"` // For optimistic locking
}

// Registered reports whether the parcel has ever been anchored on chain.
// A registered parcel can be disputed but never deleted.
func (p *Parcel) Registered() bool {
	return p.OnChainID > 0 && p.Anchor.Confirmed()
}

// Locked reports whether a transaction currently holds the parcel
func (p *Parcel) Locked() bool {
	return p.ActiveTransactionID != ""
}
