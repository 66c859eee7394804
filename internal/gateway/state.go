package gateway

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition は許可されていない状態遷移を表す。
var ErrInvalidTransition = errors.New("不正な状態遷移です")

// State はパイプライン内でのリクエストの状態。
type State string

const (
	StateReceived          State = "Received"
	StateRouting           State = "Routing"
	StateNotFound          State = "NotFound"
	StateAuthenticating    State = "Authenticating"
	StateRejected          State = "Rejected"
	StateAuthenticated     State = "Authenticated"
	StateDispatching       State = "Dispatching"
	StateForwarded         State = "Forwarded"
	StateDownstreamFailure State = "DownstreamFailure"
)

// transitions は各状態から遷移できる状態。ルート照合は認証より先に行う。
var transitions = map[State][]State{
	StateReceived:       {StateRouting},
	StateRouting:        {StateNotFound, StateAuthenticating},
	StateAuthenticating: {StateRejected, StateAuthenticated},
	StateAuthenticated:  {StateDispatching},
	StateDispatching:    {StateForwarded, StateDownstreamFailure},
}

// Terminal は終端状態かどうかを返す。
func (s State) Terminal() bool {
	switch s {
	case StateNotFound, StateRejected, StateForwarded, StateDownstreamFailure:
		return true
	}
	return false
}

// lifecycle は1リクエストの状態遷移を記録する。同じ状態に戻ることはない。
type lifecycle struct {
	history []State
}

func newLifecycle() *lifecycle {
	return &lifecycle{history: []State{StateReceived}}
}

// State は現在の状態を返す。
func (l *lifecycle) State() State {
	return l.history[len(l.history)-1]
}

// History はこれまでに通過した状態を返す。
func (l *lifecycle) History() []State {
	return slices.Clone(l.history)
}

// advance は next へ遷移する。
func (l *lifecycle) advance(next State) error {
	current := l.State()
	if !slices.Contains(transitions[current], next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	l.history = append(l.history, next)
	return nil
}
