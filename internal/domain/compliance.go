package domain

import "github.com/google/uuid"

// DocumentType is a verification document a vendor can submit.
type DocumentType string

const (
	DocBusinessLicense      DocumentType = "BUSINESS_LICENSE"
	DocInsuranceCertificate DocumentType = "INSURANCE_CERTIFICATE"
	DocBackgroundCheck      DocumentType = "BACKGROUND_CHECK"
	DocTaxRegistration      DocumentType = "TAX_REGISTRATION"
	DocFoodHandlingPermit   DocumentType = "FOOD_HANDLING_PERMIT"
	DocLiquorLicense        DocumentType = "LIQUOR_LICENSE"
	DocVehicleRegistration  DocumentType = "VEHICLE_REGISTRATION"
)

// RiskTier groups categories by how much verification they need.
type RiskTier string

const (
	RiskHigh   RiskTier = "high"
	RiskMedium RiskTier = "medium"
	RiskLow    RiskTier = "low"
)

// ComplianceResult is the outcome of checking a vendor against a category.
type ComplianceResult struct {
	VendorID            uuid.UUID      `json:"vendor_id"`
	Category            string         `json:"category"`
	RiskTier            RiskTier       `json:"risk_tier"`
	Compliant           bool           `json:"compliant"`
	MissingRequirements []DocumentType `json:"missing_requirements"`
}
