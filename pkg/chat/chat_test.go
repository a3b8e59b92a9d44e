package chat

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestToolResultAdvance_Monotonic(t *testing.T) {
	tr := ToolResult{ToolName: "search", Status: ToolPending}
	require.NoError(t, tr.Advance(ToolRunning))
	require.NoError(t, tr.Advance(ToolRunning))
	require.NoError(t, tr.Advance(ToolCompleted))

	err := tr.Advance(ToolFailed)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrToolResultTerminal))
	require.Equal(t, ToolCompleted, tr.Status)
}

func TestToolResultAdvance_NoGoingBack(t *testing.T) {
	tr := ToolResult{ToolName: "calc", Status: ToolRunning}
	require.Error(t, tr.Advance(ToolPending))
	require.Equal(t, ToolRunning, tr.Status)

	require.Error(t, tr.Advance(ToolStatus("exploded")))
}

func TestClampFraction(t *testing.T) {
	require.Equal(t, 0.0, ClampFraction(-0.5))
	require.Equal(t, 1.0, ClampFraction(3))
	require.Equal(t, 0.4, ClampFraction(0.4))
	require.Equal(t, 0.0, ClampFraction(math.NaN()))
}

func TestAgentResponseToMessage_SynthesizesToolResults(t *testing.T) {
	resp := AgentResponse{
		MessageID: "m-1",
		Content:   []ContentPart{TextPart("hi"), {Kind: ContentCode, Payload: "x := 1"}},
		ToolsUsed: []string{"text_generation"},
	}
	msg := resp.ToMessage("s1")
	require.Equal(t, RoleAssistant, msg.Role)
	require.Equal(t, "m-1", msg.RemoteID)
	require.Len(t, msg.Parts, 2)
	require.Equal(t, "hi\nx := 1", msg.PlainText())
	require.Len(t, msg.ToolResults, 1)
	require.Equal(t, ToolCompleted, msg.ToolResults[0].Status)
	require.NotEmpty(t, msg.ID)
}

func TestAgentResponseToMessage_PrefersExplicitToolResults(t *testing.T) {
	resp := AgentResponse{
		ToolsUsed:   []string{"a"},
		ToolResults: []ToolResult{{ToolName: "a", Status: ToolFailed, Error: "boom"}},
	}
	msg := resp.ToMessage("s1")
	require.Equal(t, []ToolResult{{ToolName: "a", Status: ToolFailed, Error: "boom"}}, msg.ToolResults)
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(errors.Wrap(&ConnectionError{Op: "dial", Err: errors.New("refused")}, "call")))
	require.False(t, IsTransient(&RemoteError{Message: "bad input", StatusCode: 422}))
	require.False(t, IsTransient(errors.New("plain")))
	require.False(t, IsTransient(nil))
}

func TestUserFacing(t *testing.T) {
	require.Equal(t, "bad input", UserFacing(errors.Wrap(&RemoteError{Message: "bad input"}, "call")))
	require.Equal(t, "", UserFacing(nil))
}

func TestMessageClone_DoesNotAlias(t *testing.T) {
	m := NewTextMessage(RoleUser, "s", "hello")
	c := m.Clone()
	c.Parts[0] = TextPart("changed")
	require.Equal(t, "hello", m.PlainText())
}
