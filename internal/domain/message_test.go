package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleModel, RoleFunction, RoleSystem, RoleTool} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Role("assistant").Valid())
	assert.False(t, Role("").Valid())
}

func TestNewMessageSetsTextContentType(t *testing.T) {
	msg := ToolMessage("42\n")
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, ContentTypeText, msg.ContentType)
	assert.Equal(t, "42\n", msg.Content)
}

func TestStopReasonIsTerminal(t *testing.T) {
	assert.True(t, StopReasonStop.IsTerminal())
	assert.True(t, StopReasonLength.IsTerminal())
	assert.True(t, StopReasonContentFilter.IsTerminal())
	assert.False(t, StopReasonToolCalls.IsTerminal())
	assert.False(t, StopReasonNull.IsTerminal())
	assert.True(t, StopReasonNull.IsNull())
	assert.Equal(t, "null", StopReasonNull.String())
}

func TestStopReasonJSON(t *testing.T) {
	data, err := json.Marshal(PromptResponse{Message: ModelMessage("hi")})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stop_reason":null`)

	var resp PromptResponse
	require.NoError(t, json.Unmarshal([]byte(`{"stop_reason":"tool_calls"}`), &resp))
	assert.Equal(t, StopReasonToolCalls, resp.StopReason)

	require.NoError(t, json.Unmarshal([]byte(`{"stop_reason":null}`), &resp))
	assert.Equal(t, StopReasonNull, resp.StopReason)

	err = json.Unmarshal([]byte(`{"stop_reason":"exploded"}`), &resp)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseToolArguments(t *testing.T) {
	assert.Empty(t, ParseToolArguments(""))
	assert.Empty(t, ParseToolArguments("null"))
	assert.Equal(t, map[string]any{"city": "Oslo"}, ParseToolArguments(`{"city":"Oslo"}`))
	assert.Equal(t, map[string]any{RawArgumentsKey: `{"city":`}, ParseToolArguments(`{"city":`))
	assert.Equal(t, map[string]any{RawArgumentsKey: `[1,2]`}, ParseToolArguments(`[1,2]`))
}

func TestToolCallArgumentsJSON(t *testing.T) {
	assert.Equal(t, "{}", ToolCall{}.ArgumentsJSON())
	assert.JSONEq(t, `{"a":1}`, ToolCall{Arguments: map[string]any{"a": 1}}.ArgumentsJSON())
}

func TestToolSchemaOrDefault(t *testing.T) {
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(Tool{Name: "x"}.SchemaOrDefault()))
	schema := json.RawMessage(`{"type":"object","required":["q"]}`)
	assert.Equal(t, schema, Tool{Schema: schema}.SchemaOrDefault())
}

func TestAnyRequired(t *testing.T) {
	assert.False(t, AnyRequired(nil))
	assert.True(t, AnyRequired([]Tool{{Name: "a"}, {Name: "b", Required: true}}))
}
