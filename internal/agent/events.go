package agent

// State is a step of the question-answering protocol.
type State string

const (
	StateAwaitQuestion    State = "await_question"
	StateFirstTurnIssued  State = "first_turn_issued"
	StateDirectAnswer     State = "direct_answer"
	StateToolCallsIssued  State = "tool_calls_issued"
	StateSecondTurnIssued State = "second_turn_issued"
	StateAnswered         State = "answered"
)

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateAwaitQuestion:    {StateFirstTurnIssued, StateAnswered},
	StateFirstTurnIssued:  {StateDirectAnswer, StateToolCallsIssued},
	StateDirectAnswer:     {StateAnswered},
	StateToolCallsIssued:  {StateSecondTurnIssued},
	StateSecondTurnIssued: {StateAnswered, StateToolCallsIssued},
	StateAnswered:         nil,
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EventCallback is called on every state change and tool completion.
type EventCallback func(Event)

// Event reports progress through one question.
type Event struct {
	State    State
	Round    int
	ToolName string // set for tool events
	CallID   string
	Success  bool
	Text     string // final answer, set when State is StateAnswered
}

// Done reports whether this is the final event of the question.
func (e Event) Done() bool { return e.State == StateAnswered && e.ToolName == "" }
