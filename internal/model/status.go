package model

// Status is a ticket workflow state.
type Status string

const (
	StatusNew             Status = "new"
	StatusCheckedIn       Status = "checked_in"
	StatusDiagnosing      Status = "diagnosing"
	StatusWaitingApproval Status = "waiting_approval"
	StatusWaitingParts    Status = "waiting_parts"
	StatusInRepair        Status = "in_repair"
	StatusQualityCheck    Status = "quality_check"
	StatusRepaired        Status = "repaired"
	StatusReadyPickup     Status = "ready_pickup"
	StatusPickedUp        Status = "picked_up"
	StatusClosed          Status = "closed"
	StatusCancelled       Status = "cancelled"
)

// Statuses lists the vocabulary in workflow order.
var Statuses = []Status{
	StatusNew,
	StatusCheckedIn,
	StatusDiagnosing,
	StatusWaitingApproval,
	StatusWaitingParts,
	StatusInRepair,
	StatusQualityCheck,
	StatusRepaired,
	StatusReadyPickup,
	StatusPickedUp,
	StatusClosed,
	StatusCancelled,
}

// ParseStatus accepts only exact vocabulary values.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.Valid()
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Completes reports whether entering s stamps completed_at.
func (s Status) Completes() bool {
	return s == StatusClosed || s == StatusPickedUp
}

// Terminal reports the conventional end states. Nothing prevents leaving them.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Finished reports whether work on the ticket is over: it reached a terminal
// state or was handed back to the customer.
func (s Status) Finished() bool {
	return s.Terminal() || s.Completes()
}

// FinishedStatuses lists every status for which Finished is true.
func FinishedStatuses() []Status {
	var out []Status
	for _, s := range Statuses {
		if s.Finished() {
			out = append(out, s)
		}
	}
	return out
}

// ValidTransition is the single place the workflow graph is decided. Every
// valid target is reachable from every state, including the current one.
func ValidTransition(from, to Status) bool {
	return to.Valid()
}

// Priority of a ticket.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Channel is how the repair request reached the shop.
type Channel string

const (
	ChannelWalkIn   Channel = "walk_in"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelPhone    Channel = "phone"
	ChannelEmail    Channel = "email"
	ChannelWebsite  Channel = "website"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWalkIn, ChannelWhatsApp, ChannelPhone, ChannelEmail, ChannelWebsite:
		return true
	}
	return false
}

// Notification types emitted by the service.
const (
	NotificationTicketAssigned = "ticket_assigned"
	NotificationTicketOverdue  = "ticket_overdue"
)
