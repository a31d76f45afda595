package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Listing is the downstream record materialized from one extraction. Rows
// are immutable once created.
type Listing struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id,omitempty"`
	PropertyTypeID  string    `json:"property_type_id,omitempty"`
	UnitCode        string    `json:"unit_code,omitempty"`
	Floor           *int      `json:"floor,omitempty"`
	AreaSqm         *float64  `json:"area_sqm,omitempty"`
	Price           *float64  `json:"price,omitempty"`
	Bedrooms        *int      `json:"bedrooms,omitempty"`
	Bathrooms       *int      `json:"bathrooms,omitempty"`
	Direction       string    `json:"direction,omitempty"`
	ListingType     string    `json:"listing_type,omitempty"`
	Status          string    `json:"status,omitempty"`
	ContactName     string    `json:"contact_name,omitempty"`
	ContactPhone    string    `json:"contact_phone,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	SourceMessageID string    `json:"source_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type CreateListingInput struct {
	ProjectID       string   `json:"project_id,omitempty"`
	PropertyTypeID  string   `json:"property_type_id,omitempty"`
	UnitCode        string   `json:"unit_code,omitempty"`
	Floor           *int     `json:"floor,omitempty"`
	AreaSqm         *float64 `json:"area_sqm,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Bedrooms        *int     `json:"bedrooms,omitempty"`
	Bathrooms       *int     `json:"bathrooms,omitempty"`
	Direction       string   `json:"direction,omitempty"`
	ListingType     string   `json:"listing_type,omitempty"`
	Status          string   `json:"status,omitempty"`
	ContactName     string   `json:"contact_name,omitempty"`
	ContactPhone    string   `json:"contact_phone,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	SourceMessageID string   `json:"source_message_id,omitempty"`
}

func (s *Store) CreateListing(ctx context.Context, input CreateListingInput) (string, error) {
	id := "lst_" + uuid.NewString()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO listings (
			id, project_id, property_type_id, unit_code, floor, area_sqm, price,
			bedrooms, bathrooms, direction, listing_type, status,
			contact_name, contact_phone, notes, source_message_id, created_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		nullIfEmpty(strings.TrimSpace(input.ProjectID)),
		nullIfEmpty(strings.TrimSpace(input.PropertyTypeID)),
		nullIfEmpty(strings.TrimSpace(input.UnitCode)),
		nullIntPtr(input.Floor),
		nullFloatPtr(input.AreaSqm),
		nullFloatPtr(input.Price),
		nullIntPtr(input.Bedrooms),
		nullIntPtr(input.Bathrooms),
		nullIfEmpty(strings.TrimSpace(input.Direction)),
		nullIfEmpty(strings.TrimSpace(input.ListingType)),
		nullIfEmpty(strings.TrimSpace(input.Status)),
		nullIfEmpty(strings.TrimSpace(input.ContactName)),
		nullIfEmpty(strings.TrimSpace(input.ContactPhone)),
		nullIfEmpty(strings.TrimSpace(input.Notes)),
		nullIfEmpty(strings.TrimSpace(input.SourceMessageID)),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert listing: %w", err)
	}
	return id, nil
}

func (s *Store) LookupListing(ctx context.Context, id string) (Listing, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Listing{}, ErrListingNotFound
	}
	var (
		listing     Listing
		floor       sql.NullInt64
		area        sql.NullFloat64
		price       sql.NullFloat64
		bedrooms    sql.NullInt64
		bathrooms   sql.NullInt64
		createdUnix int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, COALESCE(project_id, ''), COALESCE(property_type_id, ''), COALESCE(unit_code, ''),
			floor, area_sqm, price, bedrooms, bathrooms,
			COALESCE(direction, ''), COALESCE(listing_type, ''), COALESCE(status, ''),
			COALESCE(contact_name, ''), COALESCE(contact_phone, ''), COALESCE(notes, ''),
			COALESCE(source_message_id, ''), created_at_unix
		 FROM listings WHERE id = ?`,
		id,
	).Scan(
		&listing.ID,
		&listing.ProjectID,
		&listing.PropertyTypeID,
		&listing.UnitCode,
		&floor,
		&area,
		&price,
		&bedrooms,
		&bathrooms,
		&listing.Direction,
		&listing.ListingType,
		&listing.Status,
		&listing.ContactName,
		&listing.ContactPhone,
		&listing.Notes,
		&listing.SourceMessageID,
		&createdUnix,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Listing{}, ErrListingNotFound
		}
		return Listing{}, fmt.Errorf("lookup listing: %w", err)
	}
	listing.Floor = intPtrFromNull(floor)
	listing.AreaSqm = floatPtrFromNull(area)
	listing.Price = floatPtrFromNull(price)
	listing.Bedrooms = intPtrFromNull(bedrooms)
	listing.Bathrooms = intPtrFromNull(bathrooms)
	listing.CreatedAt = time.Unix(createdUnix, 0).UTC()
	return listing, nil
}

// DeleteListing removes a superseded listing. Listings still referenced by a
// message link are refused.
func (s *Store) DeleteListing(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrListingNotFound
	}
	var linked int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inbound_messages WHERE listing_id = ?`, id).Scan(&linked); err != nil {
		return fmt.Errorf("check listing links: %w", err)
	}
	if linked > 0 {
		return ErrListingLinked
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM listings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete listing rows: %w", err)
	}
	if affected == 0 {
		return ErrListingNotFound
	}
	return nil
}
