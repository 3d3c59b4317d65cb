package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
	"github.com/FACorreiaa/skyparts-market/pkg/money"
)

// buildListing turns a row's mapped data into a draft listing. Unparsable price
// and quantity values fall back to 0 and 1; each fallback on a non-empty value is
// returned as a warning.
func (s *IngestionService) buildListing(session *repository.Session, row *repository.SessionRow) (*repository.Listing, []string) {
	field := func(f mapper.TargetField) string {
		return strings.TrimSpace(row.MappedData[string(f)])
	}
	var warnings []string

	partNumber := field(mapper.FieldPartNumber)
	description := field(mapper.FieldDescription)

	title := description
	if title == "" {
		title = partNumber
	}
	if title == "" {
		title = untitledListing
	}

	currency := s.config.DefaultCurrency
	var priceMinor int64
	if raw := field(mapper.FieldPrice); raw != "" {
		price, err := money.ParsePrice(raw, currency)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("price %q is not a number; defaulted to 0", raw))
		} else {
			priceMinor = price.Amount()
			currency = price.Currency()
		}
	}

	quantity := 1
	if raw := field(mapper.FieldQuantity); raw != "" {
		q, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("quantity %q is not a whole number; defaulted to 1", raw))
		case q < 1:
			warnings = append(warnings, fmt.Sprintf("quantity %d is not positive; defaulted to 1", q))
		default:
			quantity = q
		}
	}

	condition := strings.ToUpper(field(mapper.FieldCondition))
	if condition == "" {
		condition = s.config.DefaultCondition
	}

	listing := &repository.Listing{
		ID:            uuid.New(),
		SellerID:      session.UserID,
		SessionID:     session.ID,
		RowNumber:     row.RowNumber,
		PartID:        row.MatchedPartID,
		Title:         title,
		PartNumber:    partNumber,
		Description:   description,
		Manufacturer:  field(mapper.FieldManufacturer),
		Category:      field(mapper.FieldCategory),
		Condition:     condition,
		Quantity:      quantity,
		PriceMinor:    priceMinor,
		Currency:      currency,
		Location:      field(mapper.FieldLocation),
		Notes:         field(mapper.FieldNotes),
		Certification: field(mapper.FieldCertification),
		Status:        repository.ListingStatusDraft,
	}
	return listing, warnings
}
