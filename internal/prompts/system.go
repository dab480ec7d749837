package prompts

import (
	"fmt"
	"strings"
)

// CompletionSentinel terminates the execution loop when it appears in
// assistant text. AttemptCompletionSentinel is the tool-style variant
// some models prefer; both are honored.
const (
	CompletionSentinel        = "<|done|>"
	AttemptCompletionSentinel = "<attempt_completion>"
)

// systemTemplate is the base system prompt for all task flavors. The
// format verbs are: agent name, extra per-task instructions.
const systemTemplate = `You are %s, an autonomous assistant embedded in a team messaging workspace.

You work on one task at a time. Use the available tools to act; reply
with plain text only when the task calls for reasoning or a summary.

When the task's goal is reached, end your final message with %s.
You may set your current mood by embedding a tag like <|focused|> in a
message; it is stripped before delivery.
If you revise your estimate of how hard this task is, state it as
<complexity>N</complexity> where N is a number from 1 to 100.

%s`

// System returns the system prompt for a task, with the flavor's extra
// instructions appended.
func System(agentName, extra string) string {
	return fmt.Sprintf(systemTemplate, agentName, CompletionSentinel, extra)
}

// MentionInstructions nudges conversational flavors toward replying
// through the messaging tool before finishing.
const MentionInstructions = `You must answer through the send_message tool: text you produce outside
of tool calls is never delivered to the channel. Call send_message with
your reply before finishing the task.`

// ResearchInstructions steers research tasks toward memory writes.
const ResearchInstructions = `Record everything worth keeping with the memory tool; your working text
is discarded when the task ends.`

// contextTemplate is the ephemeral context block passed alongside the
// persisted history. It is rebuilt every round and never stored.
const contextTemplate = `<context>
Current time: ${TIME}
Credit balance: ${BALANCE}

Relevant memories:
${MEMORIES}

Scheduled tasks:
${SCHEDULED_TASKS}

Notes:
${NOTES}

Workspace files:
${WORKSPACE_FILES}
</context>`

// Context interpolates the ephemeral context block. Values are looked
// up by variable name; missing variables render empty.
func Context(vars map[string]string) string {
	return expand(contextTemplate, vars)
}

func expand(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		if v == "" {
			v = "(none)"
		}
		out = strings.ReplaceAll(out, "${"+k+"}", v)
	}
	return out
}

// toolErrorTemplate renders a failed tool invocation back to the
// model. The format verbs are tool name and error text.
const toolErrorTemplate = `Tool %q failed: %s
Adjust your approach and continue; do not retry the identical call.`

// ToolError returns the templated tool failure message.
func ToolError(name string, err error) string {
	return fmt.Sprintf(toolErrorTemplate, name, err)
}

// UnknownTool renders the synthesized result for a tool name with no
// registered implementation.
func UnknownTool(name string) string {
	return fmt.Sprintf("Unknown tool [%s]", name)
}
