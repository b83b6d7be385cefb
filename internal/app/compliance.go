/**
 * @description
 * Vendor verification checks run before any funds are transferred to a vendor.
 */

package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

// DocumentSource returns the document types a vendor has had approved.
type DocumentSource interface {
	ApprovedDocumentTypes(ctx context.Context, vendorID uuid.UUID) ([]domain.DocumentType, error)
}

var categoryRiskTiers = map[string]domain.RiskTier{
	"VENUE":         domain.RiskHigh,
	"CATERING":      domain.RiskHigh,
	"SECURITY":      domain.RiskHigh,
	"TRANSPORT":     domain.RiskHigh,
	"ENTERTAINMENT": domain.RiskMedium,
	"AV_EQUIPMENT":  domain.RiskMedium,
	"PHOTOGRAPHY":   domain.RiskLow,
	"DECOR":         domain.RiskLow,
}

var riskTierRequirements = map[domain.RiskTier][]domain.DocumentType{
	domain.RiskHigh:   {domain.DocBusinessLicense, domain.DocInsuranceCertificate, domain.DocBackgroundCheck},
	domain.RiskMedium: {domain.DocBusinessLicense, domain.DocInsuranceCertificate},
	domain.RiskLow:    {domain.DocBusinessLicense},
}

var categoryExtraRequirements = map[string][]domain.DocumentType{
	"CATERING":  {domain.DocFoodHandlingPermit},
	"TRANSPORT": {domain.DocVehicleRegistration},
}

// ComplianceChecker validates vendors against category requirements.
type ComplianceChecker struct {
	documents DocumentSource
}

func NewComplianceChecker(documents DocumentSource) *ComplianceChecker {
	return &ComplianceChecker{documents: documents}
}

// RiskTierFor returns the risk tier of a category. Unknown categories are medium risk.
func RiskTierFor(category string) domain.RiskTier {
	if tier, ok := categoryRiskTiers[normalizeCategory(category)]; ok {
		return tier
	}
	return domain.RiskMedium
}

// RequiredDocuments lists what a vendor in category must have approved, in a stable order.
func RequiredDocuments(category string) []domain.DocumentType {
	normalized := normalizeCategory(category)
	required := append([]domain.DocumentType(nil), riskTierRequirements[RiskTierFor(normalized)]...)
	return append(required, categoryExtraRequirements[normalized]...)
}

// CheckCompliance compares the vendor's approved documents with the category's requirements.
func (c *ComplianceChecker) CheckCompliance(ctx context.Context, vendorID uuid.UUID, category string) (domain.ComplianceResult, error) {
	approved, err := c.documents.ApprovedDocumentTypes(ctx, vendorID)
	if err != nil {
		return domain.ComplianceResult{}, fmt.Errorf("failed to load approved documents for vendor %s: %w", vendorID, err)
	}

	have := make(map[domain.DocumentType]bool, len(approved))
	for _, doc := range approved {
		have[doc] = true
	}

	missing := []domain.DocumentType{}
	for _, doc := range RequiredDocuments(category) {
		if !have[doc] {
			missing = append(missing, doc)
		}
	}

	return domain.ComplianceResult{
		VendorID:            vendorID,
		Category:            normalizeCategory(category),
		RiskTier:            RiskTierFor(category),
		Compliant:           len(missing) == 0,
		MissingRequirements: missing,
	}, nil
}
