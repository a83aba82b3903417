package trade

// Notification is a match event pushed to a connected trader. The set of
// variants is closed; consumers switch exhaustively on the concrete type.
type Notification interface {
	notification()
}

// MatchNotification is the synchronous variant for manually submitted orders.
type MatchNotification struct {
	FilledWith FilledWith `json:"filled_with"`
}

// AsyncMatchNotification is sent when the fill was system-initiated, e.g. an
// order whose expiry triggered automatic matching. It carries the order so
// the client can reconcile state it never asked for.
type AsyncMatchNotification struct {
	Order      Order      `json:"order"`
	FilledWith FilledWith `json:"filled_with"`
}

func (MatchNotification) notification() {}

func (AsyncMatchNotification) notification() {}

// NotificationFor picks the variant matching the order's reason.
func NotificationFor(order Order, filledWith FilledWith) Notification {
	switch order.Reason {
	case ReasonExpired:
		return AsyncMatchNotification{Order: order, FilledWith: filledWith}
	default:
		return MatchNotification{FilledWith: filledWith}
	}
}
