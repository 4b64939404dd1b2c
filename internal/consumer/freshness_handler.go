package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/activityquery/internal/domain"
	"example.com/activityquery/internal/freshness"
	"example.com/activityquery/internal/observability"
	"example.com/activityquery/internal/platform/events"
)

// FreshnessHandler moves cache validators when activities or entries change.
type FreshnessHandler struct {
	tracker *freshness.Tracker
	logger  *zap.Logger
}

// NewFreshnessHandler constructs a FreshnessHandler.
func NewFreshnessHandler(tracker *freshness.Tracker, logger *zap.Logger) *FreshnessHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FreshnessHandler{tracker: tracker, logger: logger}
}

// Handle implements Handler. Unknown event types are acknowledged and ignored.
func (h *FreshnessHandler) Handle(_ context.Context, msg Message) error {
	switch msg.EventType {
	case events.TypeActivityIngested:
		var evt events.ActivityIngested
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		mode, err := domain.ParseMode(evt.Mode)
		if err != nil || evt.UserID == "" {
			return fmt.Errorf("%s: invalid user %q or mode %q", msg.EventType, evt.UserID, evt.Mode)
		}
		h.touch(freshness.UserKey(evt.UserID, string(mode)), firstSet(evt.IngestedAt, msg.Timestamp))
	case events.TypeJournalEntryUpdated:
		var evt events.JournalEntryUpdated
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		if evt.EntryID == "" {
			return fmt.Errorf("%s: missing entry_id", msg.EventType)
		}
		ts := firstSet(evt.UpdatedAt, msg.Timestamp)
		h.touch(freshness.EntryKey(evt.EntryID), ts)
		// Entry edits move the owner's per-store entry counts as well.
		if evt.UserID != "" && evt.Mode != "" {
			mode, err := domain.ParseMode(evt.Mode)
			if err != nil {
				return fmt.Errorf("%s: invalid mode %q", msg.EventType, evt.Mode)
			}
			h.touch(freshness.UserKey(evt.UserID, string(mode)), ts)
		}
	default:
		h.logger.Debug("ignoring event", zap.String("event_type", msg.EventType), zap.String("topic", msg.Topic))
	}
	return nil
}

func (h *FreshnessHandler) touch(key string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	h.tracker.Touch(key, ts)
	observability.RecordFreshnessEvent(ts)
}

func firstSet(ts ...time.Time) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}
