package auth

// OAuth scopes checked by the activity query endpoints.
const (
	ScopeActivitiesRead = "activities:read"
	ScopeJournalRead    = "journal:read"
)
