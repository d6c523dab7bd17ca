package issues

import (
	"fmt"
	"sort"

	"github.com/climbclub/ticketdesk/internal/orders"
	"github.com/climbclub/ticketdesk/pkg/enums"
)

// Action is an operator control on an issue. The value doubles as the button
// custom id prefix.
type Action string

const (
	ActionViewOrderDetails   Action = "view_order_details"
	ActionCancelOrder        Action = "cancel_order"
	ActionMarkIssueProcessed Action = "mark_issue_processed"
	ActionViewTickets        Action = "view_tickets"
	ActionMarkOrderProcessed Action = "mark_order_processed"
	ActionFetchTickets       Action = "fetch_tickets"
	ActionReleaseTickets     Action = "release_tickets"
)

// Bit positions are persisted in issues.flags and must never be renumbered.
var actionBits = map[Action]int{
	ActionViewOrderDetails:   1 << 0,
	ActionCancelOrder:        1 << 1,
	ActionMarkIssueProcessed: 1 << 2,
	ActionViewTickets:        1 << 3,
	ActionMarkOrderProcessed: 1 << 4,
	ActionFetchTickets:       1 << 5,
	ActionReleaseTickets:     1 << 6,
}

var allBits = func() int {
	mask := 0
	for _, bit := range actionBits {
		mask |= bit
	}
	return mask
}()

func (a Action) String() string {
	return string(a)
}

func (a Action) IsValid() bool {
	_, ok := actionBits[a]
	return ok
}

// Bit returns the persisted flag of a, or 0 for unknown actions.
func (a Action) Bit() int {
	return actionBits[a]
}

// Mutating reports whether running a changes ledger or issue state.
func (a Action) Mutating() bool {
	switch a {
	case ActionViewOrderDetails, ActionViewTickets:
		return false
	default:
		return true
	}
}

// NeedsConfirmation lists the actions that open a typed confirmation first.
func (a Action) NeedsConfirmation() bool {
	switch a {
	case ActionCancelOrder, ActionMarkIssueProcessed, ActionMarkOrderProcessed, ActionReleaseTickets:
		return true
	default:
		return false
	}
}

func ParseAction(value string) (Action, error) {
	a := Action(value)
	if !a.IsValid() {
		return "", fmt.Errorf("invalid action %q", value)
	}
	return a, nil
}

// ActionSet is the set of actions an operator may run on an issue.
type ActionSet struct {
	bits int
}

// NewActionSet builds a set holding actions.
func NewActionSet(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s = s.With(a)
	}
	return s
}

// FromBits decodes persisted flags. Unknown bits are rejected.
func FromBits(bits int) (ActionSet, error) {
	if bits < 0 || bits&^allBits != 0 {
		return ActionSet{}, fmt.Errorf("unknown action bits in %d", bits)
	}
	return ActionSet{bits: bits}, nil
}

func (s ActionSet) Has(a Action) bool {
	bit := a.Bit()
	return bit != 0 && s.bits&bit != 0
}

func (s ActionSet) With(a Action) ActionSet {
	return ActionSet{bits: s.bits | a.Bit()}
}

func (s ActionSet) Without(a Action) ActionSet {
	return ActionSet{bits: s.bits &^ a.Bit()}
}

func (s ActionSet) Bits() int {
	return s.bits
}

func (s ActionSet) Empty() bool {
	return s.bits == 0
}

// Actions lists the members in bit order.
func (s ActionSet) Actions() []Action {
	out := make([]Action, 0, len(actionBits))
	for a, bit := range actionBits {
		if s.bits&bit != 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bit() < out[j].Bit() })
	return out
}

// Capabilities is the only place flags are derived. A closed issue can only
// be inspected. An open issue either still holds tickets, in which case they
// can be viewed, confirmed or (while nothing was confirmed) released, or it
// holds none and can be refunded, dismissed or retried when the cause is
// transient.
func Capabilities(status enums.IssueStatus, st orders.State, reason enums.IssueReason) ActionSet {
	set := NewActionSet(ActionViewOrderDetails)
	if status != enums.IssueStatusOpen {
		return set
	}

	if st.Active() > 0 {
		set = set.With(ActionViewTickets).With(ActionMarkOrderProcessed)
		if st.Processed == 0 {
			set = set.With(ActionReleaseTickets)
		}
		return set
	}

	set = set.With(ActionCancelOrder).With(ActionMarkIssueProcessed)
	if reason.Retryable() {
		set = set.With(ActionFetchTickets)
	}
	return set
}
