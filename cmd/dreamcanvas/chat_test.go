package main

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamcanvas/internal/engine"
	"dreamcanvas/internal/flow"
	"dreamcanvas/internal/session"
)

func newTestChatModel() chatModel {
	state := session.New(flow.FirstStep(), flow.SpecialistDreamCoach)
	return newChatModel(context.Background(), nil, nil, state, "abcdef1234567890", "self")
}

func TestChatModelRenderHistory(t *testing.T) {
	m := newTestChatModel()
	m.history = []chatMessage{
		{role: "user", content: "I want to open a bakery.", time: time.Now()},
		{role: "canvas", content: "Tell me more about that.", time: time.Now()},
	}

	out := m.renderHistory()
	assert.Contains(t, out, "You")
	assert.Contains(t, out, "Canvas")
	assert.Contains(t, out, "I want to open a bakery.")
	assert.Contains(t, out, "Tell me more about that.")
}

func TestChatModelSubmitIgnoresEmptyInput(t *testing.T) {
	m := newTestChatModel()
	m.textinput.SetValue("   ")

	next, cmd := m.handleSubmit()
	assert.Nil(t, cmd)
	assert.Empty(t, next.(chatModel).history)
	assert.False(t, next.(chatModel).isLoading)
}

func TestChatModelSubmitQueuesTurn(t *testing.T) {
	m := newTestChatModel()
	m.textinput.SetValue("hello")

	next, cmd := m.handleSubmit()
	require.NotNil(t, cmd)
	nm := next.(chatModel)
	assert.True(t, nm.isLoading)
	require.Len(t, nm.history, 1)
	assert.Equal(t, "user", nm.history[0].role)
	assert.Equal(t, "hello", nm.history[0].content)
	assert.Empty(t, nm.textinput.Value(), "input is cleared after submit")
}

func TestChatModelClearCommand(t *testing.T) {
	m := newTestChatModel()
	m.history = []chatMessage{{role: "user", content: "x", time: time.Now()}}
	m.textinput.SetValue("/clear")

	next, _ := m.handleSubmit()
	assert.Empty(t, next.(chatModel).history)
}

func TestChatModelFailedTurnShowsRetryHint(t *testing.T) {
	m := newTestChatModel()
	m.isLoading = true

	next, _ := m.Update(turnFailedMsg(&engine.TurnError{
		Type:         "rate_limited",
		UserMessage:  "I need a short breather. Please try again in a moment.",
		RetryAfterMS: 7000,
	}))
	nm := next.(chatModel)
	assert.False(t, nm.isLoading)
	require.Len(t, nm.history, 1)
	assert.Contains(t, nm.history[0].content, "breather")
	assert.Contains(t, nm.history[0].content, "7s")
}

func TestChatModelQuitOnCtrlC(t *testing.T) {
	m := newTestChatModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
