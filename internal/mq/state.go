package mq

import "fmt"

// State — состояние Controller.
type State int

// Состояния Controller. Значения экспортируются в метрику
// krbridge_controller_state, поэтому порядок менять нельзя.
const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateChannelOpen
	StateConsuming
	StateClosing
	StateClosed
)

var stateNames = map[State]string{
	StateInit:        "INIT",
	StateConnecting:  "CONNECTING",
	StateConnected:   "CONNECTED",
	StateChannelOpen: "CHANNEL_OPEN",
	StateConsuming:   "CONSUMING",
	StateClosing:     "CLOSING",
	StateClosed:      "CLOSED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// transitions — допустимые переходы. Любой сбой идёт через CLOSING.
var transitions = map[State][]State{
	StateInit:        {StateConnecting, StateClosing},
	StateConnecting:  {StateConnected, StateClosing},
	StateConnected:   {StateChannelOpen, StateClosing},
	StateChannelOpen: {StateConsuming, StateClosing},
	StateConsuming:   {StateClosing},
	StateClosing:     {StateClosed},
}

// CanTransition проверяет, есть ли переход from → to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal — состояние, из которого нет переходов.
func (s State) IsTerminal() bool {
	return s == StateClosed
}
