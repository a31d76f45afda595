// Package pipeline drives unlinked messages through extraction, listing
// creation and linking, either on demand or on a schedule.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/catalog"
	"github.com/dwizi/listing-intake/internal/extract"
	"github.com/dwizi/listing-intake/internal/store"
	"github.com/dwizi/listing-intake/internal/upsert"
)

type Source interface {
	Fetch(ctx context.Context, filter store.MessageFilter, limit int) ([]store.InboundMessage, error)
	FetchByID(ctx context.Context, id string) (store.InboundMessage, error)
}

type Extractor interface {
	Extract(ctx context.Context, content string, known catalog.Catalog) (string, error)
}

type Upserter interface {
	Upsert(ctx context.Context, record extract.Record, sourceMessageID string) (string, error)
	LinkMessage(ctx context.Context, messageID, listingID string) (upsert.LinkResult, error)
}

type CatalogSource interface {
	Current() catalog.Catalog
}

// Outcome describes what happened to one message. ListingID is empty when
// the run did not commit.
type Outcome struct {
	MessageID         string         `json:"message_id"`
	Record            extract.Record `json:"record"`
	Committed         bool           `json:"committed"`
	ListingID         string         `json:"listing_id,omitempty"`
	PreviousListingID string         `json:"previous_listing_id,omitempty"`
	Replaced          bool           `json:"replaced"`
}

type BatchResult struct {
	CorrelationID string `json:"correlation_id"`
	Processed     int    `json:"processed"`
	Failed        int    `json:"failed"`
	Pages         int    `json:"pages"`
}

type Processor struct {
	source    Source
	extractor Extractor
	upserter  Upserter
	catalog   CatalogSource
	maxPages  int
	logger    *slog.Logger
}

type ProcessorConfig struct {
	// MaxPages bounds one batch; zero means no bound.
	MaxPages int
}

func NewProcessor(source Source, extractor Extractor, upserter Upserter, catalogSource CatalogSource, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if catalogSource == nil {
		catalogSource = catalog.NewStaticHolder(catalog.Catalog{})
	}
	return &Processor{
		source:    source,
		extractor: extractor,
		upserter:  upserter,
		catalog:   catalogSource,
		maxPages:  cfg.MaxPages,
		logger:    logger.With("component", "pipeline"),
	}
}

// Single processes one message. With commit false the extracted record is
// returned and nothing is written.
func (p *Processor) Single(ctx context.Context, messageID string, commit bool) (Outcome, error) {
	message, err := p.source.FetchByID(ctx, messageID)
	if err != nil {
		return Outcome{MessageID: messageID}, err
	}
	return p.process(ctx, p.logger, message, commit)
}

// Batch pages through unlinked messages until a page yields no successes,
// the page bound is hit, or ctx ends.
func (p *Processor) Batch(ctx context.Context, pageSize int) (processed, failed int) {
	result := p.RunBatch(ctx, pageSize)
	return result.Processed, result.Failed
}

func (p *Processor) RunBatch(ctx context.Context, pageSize int) BatchResult {
	if pageSize <= 0 {
		pageSize = 20
	}
	result := BatchResult{CorrelationID: uuid.NewString()}
	logger := p.logger.With("correlation_id", result.CorrelationID)
	logger.Info("batch started", "page_size", pageSize, "max_pages", p.maxPages)

	attempted := map[string]struct{}{}
	for p.maxPages <= 0 || result.Pages < p.maxPages {
		if ctx.Err() != nil {
			break
		}
		messages, err := p.source.Fetch(ctx, store.MessageFilterUnlinked, pageSize)
		if err != nil {
			logger.Error("batch fetch failed", "error", err, "kind", apperr.KindOf(err))
			break
		}
		if len(messages) == 0 {
			break
		}
		result.Pages++

		successes := 0
		for _, message := range messages {
			if ctx.Err() != nil {
				break
			}
			// Failed messages stay unlinked and come back on the next page.
			if _, seen := attempted[message.ID]; seen {
				continue
			}
			attempted[message.ID] = struct{}{}
			if _, err := p.process(ctx, logger, message, true); err != nil {
				result.Failed++
				logger.Warn("message failed", "message_id", message.ID, "error", err, "kind", apperr.KindOf(err))
				continue
			}
			successes++
		}
		result.Processed += successes
		if successes == 0 {
			break
		}
	}
	logger.Info("batch finished", "processed", result.Processed, "failed", result.Failed, "pages", result.Pages)
	return result
}

func (p *Processor) process(ctx context.Context, logger *slog.Logger, message store.InboundMessage, commit bool) (Outcome, error) {
	outcome := Outcome{MessageID: message.ID}
	known := p.catalog.Current()

	raw, err := p.extractor.Extract(ctx, message.Content, known)
	if err != nil {
		return outcome, err
	}
	record, err := extract.Parse(raw, known)
	if err != nil {
		logger.Debug("unparseable model output", "message_id", message.ID, "raw", apperr.DetailOf(err))
		return outcome, err
	}
	outcome.Record = record
	if !commit {
		return outcome, nil
	}

	listingID, err := p.upserter.Upsert(ctx, record, message.ID)
	if err != nil {
		return outcome, err
	}
	link, err := p.upserter.LinkMessage(ctx, message.ID, listingID)
	if err != nil {
		logger.Error("listing created but link failed", "message_id", message.ID, "listing_id", listingID, "error", err)
		return outcome, err
	}
	outcome.Committed = true
	outcome.ListingID = link.ListingID
	outcome.PreviousListingID = link.PreviousListingID
	outcome.Replaced = link.Replaced
	logger.Info("message processed", "message_id", message.ID, "listing_id", listingID, "replaced", link.Replaced)
	return outcome, nil
}
