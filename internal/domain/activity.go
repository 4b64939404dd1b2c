package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which of the two physical activity stores backs an entry.
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

// ParseMode validates a caller supplied mode. Only the aggregate path accepts
// one; entry scoped reads always use the entry's stored mode.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeSandbox:
		return ModeSandbox, nil
	case ModeLive:
		return ModeLive, nil
	}
	return "", fmt.Errorf("%w: mode must be one of sandbox, live", ErrInvalidArgument)
}

// Valid reports whether m names a known store.
func (m Mode) Valid() bool {
	return m == ModeSandbox || m == ModeLive
}

// Activity is one unit of work evidence pulled from an external tool. It is
// immutable once ingested.
type Activity struct {
	ID            string
	UserID        string
	Source        string
	SourceID      string
	SourceURL     string
	Title         string
	Description   string
	Timestamp     time.Time
	CrossToolRefs []string
}

// GroupingMethod records how an entry's activities were chosen.
type GroupingMethod string

const (
	GroupingTimeRange GroupingMethod = "time_range"
	GroupingCluster   GroupingMethod = "cluster"
	GroupingManual    GroupingMethod = "manual"
)

// JournalEntry groups activities authored into a story. Mode is set at
// creation and never changes; every id in ActivityIDs lives in that store.
type JournalEntry struct {
	ID             string
	UserID         string
	Title          string
	ActivityIDs    []string
	Mode           Mode
	GroupingMethod GroupingMethod
	TimeRangeStart *time.Time
	TimeRangeEnd   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
