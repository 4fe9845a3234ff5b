package models

var validTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled, StatusExpired},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled, StatusExpired},
	StatusCompleted:  {StatusRefunded},
	// No transitions allowed from the remaining terminal states
	StatusFailed:    {},
	StatusCancelled: {},
	StatusExpired:   {},
	StatusRefunded:  {},
}

// IsValidTransition checks if a status transition is allowed
func IsValidTransition(from, to PaymentStatus) bool {
	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}

	for _, validTo := range allowed {
		if validTo == to {
			return true
		}
	}

	return false
}

// IsTerminal reports whether a transaction in this status has settled one way
// or another. COMPLETED is terminal even though it may still move to REFUNDED.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// IsFinal reports whether no further transition is possible from s.
func (s PaymentStatus) IsFinal() bool {
	allowed, ok := validTransitions[s]
	return ok && len(allowed) == 0
}
