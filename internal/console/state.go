package console

// State is one user's interaction state. The concrete types are the only
// implementations.
type State interface {
	Name() string
	isState()
}

// Idle is the initial state.
type Idle struct{}

// AwaitingSessionName expects the next text to name a new session.
type AwaitingSessionName struct{}

// AwaitingQuery addresses Session; the next text is a query. Draft holds the
// text of the last submission that did not succeed.
type AwaitingQuery struct {
	Session string
	Draft   string
}

// AccumulatingFlags collects text into Draft until an explicit send.
type AccumulatingFlags struct {
	Session string
	Draft   string
}

func (Idle) Name() string                { return "idle" }
func (AwaitingSessionName) Name() string { return "awaiting_session_name" }
func (AwaitingQuery) Name() string       { return "awaiting_query" }
func (AccumulatingFlags) Name() string   { return "accumulating_flags" }

func (Idle) isState()                {}
func (AwaitingSessionName) isState() {}
func (AwaitingQuery) isState()       {}
func (AccumulatingFlags) isState()   {}

// addressed returns the session a state points at, if any.
func addressed(s State) (string, bool) {
	switch st := s.(type) {
	case AwaitingQuery:
		return st.Session, true
	case AccumulatingFlags:
		return st.Session, true
	}
	return "", false
}
