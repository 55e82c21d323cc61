package domain

const (
	CanonicalEventClassDomain = "domain"
	CanonicalEventClassOps    = "ops"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventPaymentPaid        = "payment.paid"
	EventPaymentFailed      = "payment.failed"
	EventPaymentRefunded    = "payment.refunded"
	EventTabOpened          = "tab.opened"
	EventTabClosed          = "tab.closed"
	EventPointsEarned       = "points.earned"
	EventPointsSpent        = "points.spent"
	EventRewardIssued       = "reward.issued"
)
