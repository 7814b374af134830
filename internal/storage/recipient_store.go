package storage

import (
	"context"
	"strings"
)

// Preferences are a recipient's standing delivery choices.
type Preferences struct {
	TelegramEnabled  bool `json:"telegram_enabled"`
	EmailEnabled     bool `json:"email_enabled"`
	ServiceConsent   bool `json:"service_consent"`
	MarketingConsent bool `json:"marketing_consent"`
}

// EventTypeMassBroadcast tags work items produced by a mass send.
const EventTypeMassBroadcast = "mass_broadcast"

// IsMarketingEvent reports whether eventType needs marketing consent rather
// than service consent.
func IsMarketingEvent(eventType string) bool {
	return eventType == EventTypeMassBroadcast || strings.HasPrefix(eventType, "marketing.")
}

// ChannelEnabled reports whether the recipient accepts messages on ch.
func (p Preferences) ChannelEnabled(ch Channel) bool {
	switch ch {
	case ChannelTelegram:
		return p.TelegramEnabled
	case ChannelEmail:
		return p.EmailEnabled
	}
	return false
}

// Allows reports whether a message of eventType may be sent on ch.
func (p Preferences) Allows(ch Channel, eventType string) bool {
	if !p.ChannelEnabled(ch) {
		return false
	}
	if IsMarketingEvent(eventType) {
		return p.MarketingConsent
	}
	return p.ServiceConsent
}

// Recipient is a client profile as seen by the notifier.
type Recipient struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	GroupName      string      `json:"group_name,omitempty"`
	Active         bool        `json:"active"`
	TelegramChatID string      `json:"telegram_chat_id,omitempty"`
	Email          string      `json:"email,omitempty"`
	Preferences    Preferences `json:"preferences"`
}

// Address returns the recipient's destination on ch, or "" if none is known.
func (r *Recipient) Address(ch Channel) string {
	switch ch {
	case ChannelTelegram:
		return strings.TrimSpace(r.TelegramChatID)
	case ChannelEmail:
		return strings.TrimSpace(r.Email)
	}
	return ""
}

// RecipientFilter selects recipients for a mass send. Empty fields match all.
type RecipientFilter struct {
	IDs        []string `json:"ids,omitempty"`
	GroupName  string   `json:"group_name,omitempty"`
	ActiveOnly bool     `json:"active_only,omitempty"`
}

// RecipientStore reads recipient profiles.
type RecipientStore interface {
	// GetRecipient returns the recipient with id, or nil if not found.
	GetRecipient(ctx context.Context, id string) (*Recipient, error)
	// ListRecipients returns recipients matching filter ordered by id.
	ListRecipients(ctx context.Context, filter RecipientFilter) ([]*Recipient, error)
	// SaveRecipient inserts or replaces a recipient.
	SaveRecipient(ctx context.Context, r *Recipient) error
}
