// Package authflow models the sign-in journey of the front-end as a finite
// state machine. Each auth endpoint reports the view the client should show
// next by firing an event from the view it was called from.
package authflow

import (
	"errors"
	"fmt"
	"sort"
)

type View string

const (
	Login          View = "login"
	SignUp         View = "signup"
	ForgotPassword View = "forgot-password"
	VerifyEmail    View = "verify-email"
	ResetPassword  View = "reset-password"
)

type Event string

const (
	SwitchToSignUp          Event = "switch_to_signup"
	SwitchToLogin           Event = "switch_to_login"
	SwitchToForgotPassword  Event = "switch_to_forgot_password"
	SignUpSucceeded         Event = "signup_succeeded"
	ForgotPasswordSucceeded Event = "forgot_password_succeeded"
	EmailVerified           Event = "email_verified"
	PasswordResetSucceeded  Event = "password_reset_succeeded"
)

var ErrInvalidTransition = errors.New("invalid auth flow transition")

var transitions = map[View]map[Event]View{
	Login: {
		SwitchToSignUp:         SignUp,
		SwitchToForgotPassword: ForgotPassword,
	},
	SignUp: {
		SwitchToLogin:   Login,
		SignUpSucceeded: VerifyEmail,
	},
	ForgotPassword: {
		SwitchToLogin:           Login,
		ForgotPasswordSucceeded: ResetPassword,
	},
	VerifyEmail: {
		EmailVerified: Login,
	},
	ResetPassword: {
		SwitchToLogin:          Login,
		PasswordResetSucceeded: Login,
	},
}

// Parse maps a raw view name to a View. Unknown names fall back to Login,
// the same way the client renders its default view.
func Parse(raw string) (View, bool) {
	v := View(raw)
	if _, ok := transitions[v]; ok {
		return v, true
	}
	return Login, false
}

// Transition returns the view reached by firing ev from v.
func Transition(v View, ev Event) (View, error) {
	edges, ok := transitions[v]
	if !ok {
		return v, fmt.Errorf("%w: unknown view %q", ErrInvalidTransition, v)
	}
	next, ok := edges[ev]
	if !ok {
		return v, fmt.Errorf("%w: %s does not accept %s", ErrInvalidTransition, v, ev)
	}
	return next, nil
}

// Allowed lists the events accepted in view v, sorted for stable output.
func Allowed(v View) []Event {
	edges := transitions[v]
	events := make([]Event, 0, len(edges))
	for ev := range edges {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// Machine tracks the current view and the e-mail carried between views.
// The API is stateless, so each request resumes a machine at the view the
// client reports and fires one event.
type Machine struct {
	view  View
	email string
}

// Resume starts a machine at v. Unknown views resume at Login.
func Resume(v View, email string) *Machine {
	if _, ok := transitions[v]; !ok {
		v = Login
	}
	return &Machine{view: v, email: email}
}

func (m *Machine) View() View    { return m.view }
func (m *Machine) Email() string { return m.email }

// Fire applies ev. SignUpSucceeded and ForgotPasswordSucceeded record the
// e-mail they were submitted with; other events keep the carried one.
func (m *Machine) Fire(ev Event, email string) error {
	next, err := Transition(m.view, ev)
	if err != nil {
		return err
	}

	switch ev {
	case SignUpSucceeded, ForgotPasswordSucceeded:
		if email != "" {
			m.email = email
		}
	}

	m.view = next
	return nil
}
