package tools

import "errors"

// ErrUnknownTool is returned by Registry.Call for an unregistered
// name. The execution loop turns it into a synthesized tool result
// instead of failing the task.
var ErrUnknownTool = errors.New("unknown tool")
