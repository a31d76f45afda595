// Package upsert turns validated extraction records into downstream listings
// and links them back to their source messages.
package upsert

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/catalog"
	"github.com/dwizi/listing-intake/internal/extract"
	"github.com/dwizi/listing-intake/internal/retry"
	"github.com/dwizi/listing-intake/internal/store"
)

// Creator persists a new listing and returns its identifier. *store.Store and
// *RemoteCreator both satisfy it.
type Creator interface {
	CreateListing(ctx context.Context, input store.CreateListingInput) (string, error)
}

type Linker interface {
	SetMessageLink(ctx context.Context, messageID, listingID string) (string, error)
}

type CatalogSource interface {
	Current() catalog.Catalog
}

type LinkResult struct {
	ListingID         string `json:"listing_id"`
	PreviousListingID string `json:"previous_listing_id,omitempty"`
	Replaced          bool   `json:"replaced"`
}

type Coordinator struct {
	creator Creator
	linker  Linker
	catalog CatalogSource
	policy  retry.Policy
	logger  *slog.Logger
}

func New(creator Creator, linker Linker, catalogSource CatalogSource, policy retry.Policy, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if catalogSource == nil {
		catalogSource = catalog.NewStaticHolder(catalog.Catalog{})
	}
	return &Coordinator{
		creator: creator,
		linker:  linker,
		catalog: catalogSource,
		policy:  policy,
		logger:  logger.With("component", "upsert"),
	}
}

// Upsert always creates a new listing from record. Creation is not retried so
// a slow success can never produce two listings.
func (c *Coordinator) Upsert(ctx context.Context, record extract.Record, sourceMessageID string) (string, error) {
	input := c.buildInput(record, sourceMessageID)
	listingID, err := c.creator.CreateListing(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		var typed *apperr.Error
		if errors.As(err, &typed) {
			return "", err
		}
		return "", apperr.Wrap(apperr.KindStoreTransient, "upsert.create", err)
	}
	c.logger.Info("listing created", "listing_id", listingID, "message_id", sourceMessageID)
	return listingID, nil
}

// LinkMessage points messageID at listingID once the listing exists. Any
// previous link is reported but the superseded listing is kept.
func (c *Coordinator) LinkMessage(ctx context.Context, messageID, listingID string) (LinkResult, error) {
	previousID, err := retry.DoValue(ctx, c.policy, c.logger, "upsert.link", func(ctx context.Context) (string, error) {
		previousID, err := c.linker.SetMessageLink(ctx, messageID, listingID)
		if err != nil && !store.IsTransient(err) {
			return "", retry.Permanent(err)
		}
		return previousID, err
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrMessageNotFound):
			return LinkResult{}, apperr.Wrap(apperr.KindNotFound, "upsert.link", err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return LinkResult{}, err
		default:
			return LinkResult{}, apperr.Wrap(apperr.KindStoreTransient, "upsert.link", err)
		}
	}
	result := LinkResult{ListingID: listingID, PreviousListingID: previousID}
	if previousID != "" && previousID != listingID {
		result.Replaced = true
		c.logger.Info("message link replaced", "message_id", messageID, "listing_id", listingID, "previous_listing_id", previousID)
	}
	return result, nil
}

func (c *Coordinator) buildInput(record extract.Record, sourceMessageID string) store.CreateListingInput {
	input := store.CreateListingInput{
		ProjectID:       deref(record.ProjectID),
		PropertyTypeID:  deref(record.PropertyTypeID),
		UnitCode:        deref(record.UnitCode),
		Floor:           record.Floor,
		AreaSqm:         record.AreaSqm,
		Price:           record.Price,
		Bedrooms:        record.Bedrooms,
		Bathrooms:       record.Bathrooms,
		Direction:       deref(record.Direction),
		ListingType:     deref(record.ListingType),
		Status:          deref(record.Status),
		ContactName:     deref(record.ContactName),
		ContactPhone:    NormalizePhone(deref(record.ContactPhone)),
		Notes:           deref(record.Notes),
		SourceMessageID: strings.TrimSpace(sourceMessageID),
	}
	if input.PropertyTypeID == "" && record.PropertyTypeName != nil {
		if id, ok := c.catalog.Current().ResolvePropertyType(*record.PropertyTypeName); ok {
			input.PropertyTypeID = id
		}
	}
	return input
}

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(raw string) string {
	var builder strings.Builder
	for _, r := range raw {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
