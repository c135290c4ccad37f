/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package statemachine models the check, download and launch lifecycle of an
// update. It performs no I/O; callers report the outcome of each operation
// as an event.
package statemachine

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInvalidTransition = errors.New("event not accepted in current state")
	ErrTerminated        = errors.New("state machine is in its terminal state")
)

type State string

const (
	StateAfterRestart       State = "afterRestart"
	StateChecking           State = "checking"
	StateUpdateAvailable    State = "updateAvailable"
	StateUpdateNotAvailable State = "updateNotAvailable"
	StateErrorOnCheck       State = "errorOnCheck"
	StateDownloading        State = "downloading"
	StateUpdatePending      State = "updatePending"
	StateErrorOnDownload    State = "errorOnDownload"
	StateRechecking         State = "rechecking"
	StateErrorOnRecheck     State = "errorOnRecheck"
	StateRestarting         State = "restarting"
)

type Event string

const (
	EventCheck                           Event = "CHECK"
	EventCheckCompleteAvailableNew       Event = "CHECK_COMPLETE_AVAILABLE_NEW"
	EventCheckCompleteAvailableUnchanged Event = "CHECK_COMPLETE_AVAILABLE_UNCHANGED"
	EventCheckCompleteUnavailable        Event = "CHECK_COMPLETE_UNAVAILABLE"
	EventCheckError                      Event = "CHECK_ERROR"
	EventDownload                        Event = "DOWNLOAD"
	EventDownloadCompleteNew             Event = "DOWNLOAD_COMPLETE_NEW"
	EventDownloadCompleteUnchanged       Event = "DOWNLOAD_COMPLETE_UNCHANGED"
	EventDownloadError                   Event = "DOWNLOAD_ERROR"
	EventRecheck                         Event = "RECHECK"
	EventRecheckCompleteNew              Event = "RECHECK_COMPLETE_NEW"
	EventRecheckCompleteUnchanged        Event = "RECHECK_COMPLETE_UNCHANGED"
	EventRecheckError                    Event = "RECHECK_ERROR"
	EventReload                          Event = "RELOAD"
	EventDismiss                         Event = "DISMISS"
)

// Context is the data carried alongside the state.
type Context struct {
	// UpdateID counts how many times a structurally new update was found.
	UpdateID int
}

// Action is a pure reducer applied to the context on a transition.
type Action func(Context) Context

func incrementUpdateID(c Context) Context {
	c.UpdateID++
	return c
}

type key struct {
	from  State
	event Event
}

// Transition is one row of the transition table.
type Transition struct {
	From   State
	Event  Event
	To     State
	Action Action
}

var transitions = []Transition{
	{StateAfterRestart, EventCheck, StateChecking, nil},
	{StateUpdateNotAvailable, EventCheck, StateChecking, nil},
	{StateUpdateAvailable, EventCheck, StateChecking, nil},

	{StateChecking, EventCheckCompleteAvailableNew, StateUpdateAvailable, incrementUpdateID},
	{StateChecking, EventCheckCompleteAvailableUnchanged, StateUpdateAvailable, nil},
	{StateChecking, EventCheckCompleteUnavailable, StateUpdateNotAvailable, nil},
	{StateChecking, EventCheckError, StateErrorOnCheck, nil},

	{StateUpdateAvailable, EventDownload, StateDownloading, nil},

	{StateDownloading, EventDownloadCompleteNew, StateUpdatePending, incrementUpdateID},
	{StateDownloading, EventDownloadCompleteUnchanged, StateUpdatePending, nil},
	{StateDownloading, EventDownloadError, StateErrorOnDownload, nil},

	{StateUpdatePending, EventRecheck, StateRechecking, nil},
	{StateUpdatePending, EventReload, StateRestarting, nil},

	{StateRechecking, EventRecheckCompleteNew, StateUpdateAvailable, incrementUpdateID},
	{StateRechecking, EventRecheckCompleteUnchanged, StateUpdatePending, nil},
	{StateRechecking, EventRecheckError, StateErrorOnRecheck, nil},

	// dismissing an error returns to the state before the failed operation
	{StateErrorOnCheck, EventDismiss, StateAfterRestart, nil},
	{StateErrorOnRecheck, EventDismiss, StateUpdatePending, nil},
	{StateErrorOnDownload, EventDismiss, StateUpdateAvailable, nil},
}

var table = func() map[key]Transition {
	m := make(map[key]Transition, len(transitions))
	for _, t := range transitions {
		m[key{t.From, t.Event}] = t
	}
	return m
}()

// Transitions returns a copy of the transition table.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

// Change describes an applied transition.
type Change struct {
	From    State
	To      State
	Event   Event
	Context Context
}

// Machine is safe for concurrent use; events are applied one at a time.
type Machine struct {
	mu          sync.Mutex
	state       State
	ctx         Context
	subscribers []chan<- Change
}

func New() *Machine {
	return &Machine{state: StateAfterRestart}
}

// Send applies event. An event the current state does not accept leaves the
// machine unchanged and returns ErrInvalidTransition.
func (m *Machine) Send(event Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRestarting {
		return m.state, ErrTerminated
	}
	t, ok := table[key{m.state, event}]
	if !ok {
		return m.state, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, event, m.state)
	}

	from := m.state
	m.state = t.To
	if t.Action != nil {
		m.ctx = t.Action(m.ctx)
	}

	change := Change{From: from, To: m.state, Event: event, Context: m.ctx}
	for _, ch := range m.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
	return m.state, nil
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Context() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Subscribe registers ch for every applied transition. Delivery never
// blocks Send: changes are dropped when ch is full.
func (m *Machine) Subscribe(ch chan<- Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, ch)
}
