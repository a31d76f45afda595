// Package source pages inbound messages out of the store for the pipeline.
package source

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/retry"
	"github.com/dwizi/listing-intake/internal/store"
)

type Store interface {
	ListMessages(ctx context.Context, input store.ListMessagesInput) ([]store.InboundMessage, error)
	LookupMessage(ctx context.Context, id string) (store.InboundMessage, error)
}

type Source struct {
	store  Store
	policy retry.Policy
	logger *slog.Logger
}

func New(sqlStore Store, policy retry.Policy, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{store: sqlStore, policy: policy, logger: logger.With("component", "source")}
}

// Fetch returns up to limit messages matching the filter, oldest first.
func (s *Source) Fetch(ctx context.Context, filter store.MessageFilter, limit int) ([]store.InboundMessage, error) {
	messages, err := retry.DoValue(ctx, s.policy, s.logger, "source.fetch", func(ctx context.Context) ([]store.InboundMessage, error) {
		messages, err := s.store.ListMessages(ctx, store.ListMessagesInput{Filter: filter, Limit: limit})
		if err != nil && !store.IsTransient(err) {
			return nil, retry.Permanent(err)
		}
		return messages, err
	})
	if err != nil {
		return nil, classify("source.fetch", err)
	}
	return messages, nil
}

func (s *Source) FetchByID(ctx context.Context, id string) (store.InboundMessage, error) {
	message, err := retry.DoValue(ctx, s.policy, s.logger, "source.fetch_by_id", func(ctx context.Context) (store.InboundMessage, error) {
		message, err := s.store.LookupMessage(ctx, id)
		if err != nil && !store.IsTransient(err) {
			return store.InboundMessage{}, retry.Permanent(err)
		}
		return message, err
	})
	if err != nil {
		return store.InboundMessage{}, classify("source.fetch_by_id", err)
	}
	return message, nil
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrMessageNotFound):
		return apperr.Wrap(apperr.KindNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return apperr.Wrap(apperr.KindStoreTransient, op, err)
	}
}
