package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/studiodesk/notifier/internal/eventbus"
	"github.com/studiodesk/notifier/internal/storage"
)

// MassSendRequest describes a broadcast to every recipient matching Filter.
type MassSendRequest struct {
	Filter       storage.RecipientFilter `json:"filter"`
	Channel      storage.Channel         `json:"channel"`
	TemplateCode string                  `json:"template_code"`
	Payload      map[string]any          `json:"payload,omitempty"`
	ScheduledFor *time.Time              `json:"scheduled_for,omitempty"`
	// TestMode caps the broadcast at the configured test limit.
	TestMode bool `json:"test_mode,omitempty"`
}

// MassSendResult summarizes a broadcast. Skipped counts recipients that were
// eligible but not enqueued; Excluded counts recipients filtered out before
// that. A store failure during fan-out aborts the broadcast with an error
// instead of being counted.
type MassSendResult struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Skipped   int `json:"skipped"`
	Excluded  int `json:"excluded"`
	Truncated int `json:"truncated"`
}

// Target is one recipient of a broadcast with its resolved address.
type Target struct {
	Recipient *storage.Recipient `json:"recipient"`
	Address   string             `json:"address"`
}

func (s *notificationServiceImpl) Expand(ctx context.Context, filter storage.RecipientFilter, channel storage.Channel) ([]Target, int, error) {
	ch, ok := s.cfg.Channels[channel]
	if !channel.Valid() || !ok {
		return nil, 0, &ValidationError{Field: "channel", Message: fmt.Sprintf("channel %q is not available", channel)}
	}
	recipients, err := s.cfg.Recipients.ListRecipients(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("listing recipients: %w", err)
	}

	targets := make([]Target, 0, len(recipients))
	excluded := 0
	for _, r := range recipients {
		addr := r.Address(channel)
		if addr == "" || !ch.ValidateAddress(addr) || !r.Preferences.Allows(channel, storage.EventTypeMassBroadcast) {
			excluded++
			continue
		}
		targets = append(targets, Target{Recipient: r, Address: addr})
	}
	return targets, excluded, nil
}

func (s *notificationServiceImpl) CreateMassSend(ctx context.Context, req MassSendRequest) (*MassSendResult, error) {
	if req.TemplateCode == "" {
		return nil, &ValidationError{Field: "template_code", Message: "template_code is required"}
	}
	targets, excluded, err := s.Expand(ctx, req.Filter, req.Channel)
	if err != nil {
		return nil, err
	}
	tpl, err := s.cfg.Templates.FindTemplate(ctx, req.TemplateCode, req.Channel)
	if err != nil {
		return nil, fmt.Errorf("looking up template: %w", err)
	}
	if tpl == nil {
		return nil, &ValidationError{
			Field:   "template_code",
			Message: fmt.Sprintf("no active %s template with code %q", req.Channel, req.TemplateCode),
		}
	}

	res := &MassSendResult{Total: len(targets), Excluded: excluded}
	if req.TestMode && len(targets) > s.cfg.MassSendTestLimit {
		res.Truncated = len(targets) - s.cfg.MassSendTestLimit
		res.Skipped = res.Truncated
		targets = targets[:s.cfg.MassSendTestLimit]
	}

	log := s.logger.With("channel", req.Channel, "template_code", req.TemplateCode)
	for _, t := range targets {
		payload := make(map[string]any, len(req.Payload)+1)
		maps.Copy(payload, req.Payload)
		payload["name"] = t.Recipient.Name

		item, err := s.CreateNotification(ctx, CreateRequest{
			RecipientID:      t.Recipient.ID,
			Channel:          req.Channel,
			RecipientAddress: t.Address,
			EventType:        storage.EventTypeMassBroadcast,
			TemplateCode:     req.TemplateCode,
			Payload:          payload,
			ScheduledFor:     req.ScheduledFor,
		})
		var (
			validation *ValidationError
			notFound   *NotFoundError
		)
		switch {
		case errors.As(err, &validation) || errors.As(err, &notFound):
			log.Warn("mass send recipient skipped", "recipient_id", t.Recipient.ID, "error", err)
			res.Skipped++
			continue
		case err != nil:
			log.Error("mass send aborted", "recipient_id", t.Recipient.ID, "queued", res.Queued, "error", err)
			return nil, fmt.Errorf("mass send stopped after %d of %d recipients: %w", res.Queued, len(targets), err)
		}
		if item == nil {
			res.Skipped++
			continue
		}
		res.Queued++
	}

	log.Info("mass send queued",
		"total", res.Total, "queued", res.Queued, "skipped", res.Skipped,
		"excluded", res.Excluded, "test_mode", req.TestMode)
	s.publish(eventbus.MassSendQueued, map[string]string{
		"channel": string(req.Channel),
		"queued":  strconv.Itoa(res.Queued),
		"total":   strconv.Itoa(res.Total),
	})
	return res, nil
}
