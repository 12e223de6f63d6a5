package bookings

// Status is a booking lifecycle state.
type Status string

const (
	// StatusProvisional exists only inside the creation transaction.
	StatusProvisional      Status = "provisional"
	StatusScheduled        Status = "scheduled"
	StatusRescheduled      Status = "rescheduled"
	StatusCancelled        Status = "cancelled"
	StatusNoShow           Status = "no-show"
	StatusGeneratingReport Status = "generating-report"
	StatusReportGenerated  Status = "report-generated"
	StatusPaymentReceived  Status = "payment-received"
)

// DefaultStatus is the current status of a booking with no progress entries.
const DefaultStatus = StatusScheduled

var transitions = map[Status][]Status{
	StatusScheduled:        {StatusRescheduled, StatusCancelled, StatusNoShow, StatusGeneratingReport},
	StatusRescheduled:      {StatusCancelled, StatusNoShow, StatusGeneratingReport},
	StatusCancelled:        nil,
	StatusNoShow:           nil,
	StatusGeneratingReport: {StatusReportGenerated},
	StatusReportGenerated:  {StatusPaymentReceived},
	StatusPaymentReceived:  nil,
}

// ProgressStatuses lists every state reachable through progress updates.
var ProgressStatuses = []Status{
	StatusScheduled,
	StatusRescheduled,
	StatusCancelled,
	StatusNoShow,
	StatusGeneratingReport,
	StatusReportGenerated,
	StatusPaymentReceived,
}

// activeStatuses occupy a specialist's slot.
var activeStatuses = []Status{StatusProvisional, StatusScheduled, StatusRescheduled}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// AllowedNext returns the legal targets from s.
func AllowedNext(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
