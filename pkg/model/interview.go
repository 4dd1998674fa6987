package model

import "time"

// InterviewTurn is one question/reply exchange. Turns are never modified
// after they are appended to a session.
type InterviewTurn struct {
	Index     int       `json:"index" firestore:"index"`
	Question  string    `json:"question" firestore:"question"`
	Reply     string    `json:"reply" firestore:"reply"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

// Signal is a control signal sent through the subject input channel
type Signal int

const (
	// SignalNone means the reply is ordinary content
	SignalNone Signal = iota
	// SignalEnd requests the interview to end immediately
	SignalEnd
	// SignalWithdraw means the subject withdrew consent
	SignalWithdraw
)

func (s Signal) String() string {
	switch s {
	case SignalEnd:
		return "end"
	case SignalWithdraw:
		return "withdraw"
	default:
		return "none"
	}
}

// Reply is what the subject channel returns for one question
type Reply struct {
	Text   string
	Signal Signal
}

// Judgment is the continuation judgment evaluated after each turn
type Judgment struct {
	Round     int     `json:"round" firestore:"round"`
	Saturated bool    `json:"saturated" firestore:"saturated"`
	Coverage  int     `json:"coverage" firestore:"coverage"`
	Novelty   float64 `json:"novelty" firestore:"novelty"`
	Reason    string  `json:"reason,omitempty" firestore:"reason"`
	Source    string  `json:"source" firestore:"source"`
}
