package proto

// Domain messages: raw user input parsed by the User Actor and forwarded
// to the Agent Actor. None of them expect a correlated reply.

// UserTextSubmitted carries one line of free text from the human.
type UserTextSubmitted struct {
	Text string `json:"text"`
}

func (UserTextSubmitted) Kind() Kind { return KindUserText }

// SessionExitRequested asks the Agent Actor to wind the session down.
type SessionExitRequested struct{}

func (SessionExitRequested) Kind() Kind { return KindSessionExit }

// ClearHistoryRequested resets the conversation history.
type ClearHistoryRequested struct{}

func (ClearHistoryRequested) Kind() Kind { return KindClearHistory }

// CompactionRequested asks the Agent Actor to summarize its history.
type CompactionRequested struct{}

func (CompactionRequested) Kind() Kind { return KindCompaction }

// ImageAttachRequested stages an image (path or URL) for the next user turn.
type ImageAttachRequested struct {
	Source string `json:"source"`
}

func (ImageAttachRequested) Kind() Kind { return KindImageAttach }

// UserInputFailed reports that the User Actor could not produce input
// for an outstanding handoff (transport error, malformed command).
type UserInputFailed struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

func (UserInputFailed) Kind() Kind              { return KindUserInputFailed }
func (m UserInputFailed) CorrelationID() string { return m.RequestID }

// AgentYieldedToUser marks the handoff moment: the model/tool loop is done
// with its turn and the human owns the next one. The User Actor answers by
// sending a domain message to ReplyTo.
type AgentYieldedToUser struct {
	RequestID string `json:"request_id"`
	ReplyTo   string `json:"reply_to"`
}

func (AgentYieldedToUser) Kind() Kind              { return KindAgentYielded }
func (m AgentYieldedToUser) CorrelationID() string { return m.RequestID }

// Validate checks required fields.
func (m AgentYieldedToUser) Validate() error {
	return validateCorrelated(KindAgentYielded, m.RequestID, m.ReplyTo)
}

// AskRequest asks the human a free-form question.
type AskRequest struct {
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt"`
	Default   string `json:"default,omitempty"`
	ReplyTo   string `json:"reply_to"`
}

func (AskRequest) Kind() Kind              { return KindAsk }
func (m AskRequest) CorrelationID() string { return m.RequestID }

// Validate checks required fields.
func (m AskRequest) Validate() error {
	return validateCorrelated(KindAsk, m.RequestID, m.ReplyTo)
}

// AskResponse carries the human's answer to an AskRequest.
type AskResponse struct {
	RequestID string `json:"request_id"`
	Value     string `json:"value"`
	Err       string `json:"err,omitempty"`
}

func (AskResponse) Kind() Kind              { return KindAskResponse }
func (m AskResponse) CorrelationID() string { return m.RequestID }

// ConfirmRequest asks the human a yes/no question.
type ConfirmRequest struct {
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt"`
	ReplyTo   string `json:"reply_to"`
}

func (ConfirmRequest) Kind() Kind              { return KindConfirm }
func (m ConfirmRequest) CorrelationID() string { return m.RequestID }

// Validate checks required fields.
func (m ConfirmRequest) Validate() error {
	return validateCorrelated(KindConfirm, m.RequestID, m.ReplyTo)
}

// ConfirmResponse carries the human's yes/no decision.
type ConfirmResponse struct {
	RequestID string `json:"request_id"`
	Value     bool   `json:"value"`
	Err       string `json:"err,omitempty"`
}

func (ConfirmResponse) Kind() Kind              { return KindConfirmResponse }
func (m ConfirmResponse) CorrelationID() string { return m.RequestID }

// StatusUpdate surfaces a one-line status to the transport.
type StatusUpdate struct {
	Level StatusLevel `json:"level"`
	Text  string      `json:"text"`
}

func (StatusUpdate) Kind() Kind { return KindStatusUpdate }

// AssistantOutput surfaces the assistant's text reply to the transport.
type AssistantOutput struct {
	Text string `json:"text"`
}

func (AssistantOutput) Kind() Kind { return KindAssistantOutput }

// AssistantChunk surfaces one fragment of a streamed assistant reply.
// Chunks precede the complete AssistantOutput of the same step.
type AssistantChunk struct {
	Text string `json:"text"`
}

func (AssistantChunk) Kind() Kind { return KindAssistantChunk }

// CompleteStepRequest asks the LLM Actor for one completion over a history
// snapshot. Turns must be a deep copy; the LLM Actor never sees the live
// history.
type CompleteStepRequest struct {
	RequestID string           `json:"request_id"`
	Turns     []Turn           `json:"turns"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	ReplyTo   string           `json:"reply_to"`
	Quiet     bool             `json:"quiet,omitempty"` // suppress streamed progress (compaction)
}

func (CompleteStepRequest) Kind() Kind              { return KindCompleteStep }
func (m CompleteStepRequest) CorrelationID() string { return m.RequestID }

// Validate checks required fields.
func (m CompleteStepRequest) Validate() error {
	if err := validateCorrelated(KindCompleteStep, m.RequestID, m.ReplyTo); err != nil {
		return err
	}
	return nil
}

// CompleteStepResponse carries one assistant message (or a classified
// completer failure) back to the requester.
type CompleteStepResponse struct {
	RequestID string            `json:"request_id"`
	Text      string            `json:"text"`
	ToolCalls []ToolCall        `json:"tool_calls,omitempty"`
	Usage     Usage             `json:"usage"`
	ErrKind   CompletionErrKind `json:"err_kind,omitempty"`
	ErrMsg    string            `json:"err_msg,omitempty"`
}

func (CompleteStepResponse) Kind() Kind              { return KindCompleteStepResponse }
func (m CompleteStepResponse) CorrelationID() string { return m.RequestID }

// Failed reports whether the completion failed.
func (m CompleteStepResponse) Failed() bool { return m.ErrKind != CompletionErrNone }

// ExecuteToolsRequest dispatches the tool calls of one assistant step as a
// batch. Items execute concurrently; the response arrives once all items
// have resolved.
type ExecuteToolsRequest struct {
	RequestID string     `json:"request_id"`
	Calls     []ToolCall `json:"calls"`
	ReplyTo   string     `json:"reply_to"`
}

func (ExecuteToolsRequest) Kind() Kind              { return KindExecuteTools }
func (m ExecuteToolsRequest) CorrelationID() string { return m.RequestID }

// Validate checks required fields.
func (m ExecuteToolsRequest) Validate() error {
	if err := validateCorrelated(KindExecuteTools, m.RequestID, m.ReplyTo); err != nil {
		return err
	}
	return nil
}

// ToolCallResult is the outcome of one tool call within a batch, tied to
// its originating call by ToolCallID.
type ToolCallResult struct {
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Status     ToolStatus     `json:"status"`
	Output     string         `json:"output"`
}

// ExecuteToolsResponse collects all results for one batch.
type ExecuteToolsResponse struct {
	RequestID string           `json:"request_id"`
	Results   []ToolCallResult `json:"results"`
	Cancelled bool             `json:"cancelled"`
	Err       string           `json:"err,omitempty"`
}

func (ExecuteToolsResponse) Kind() Kind              { return KindExecuteToolsResponse }
func (m ExecuteToolsResponse) CorrelationID() string { return m.RequestID }

// CancelToolsRequest aborts still-running items of an outstanding batch.
// A no-op if the batch already completed.
type CancelToolsRequest struct {
	RequestID string `json:"request_id"`
}

func (CancelToolsRequest) Kind() Kind              { return KindCancelTools }
func (m CancelToolsRequest) CorrelationID() string { return m.RequestID }

// SaveHistoryRequest asks the History Manager to persist a snapshot.
type SaveHistoryRequest struct {
	RequestID string `json:"request_id"`
	Turns     []Turn `json:"turns"`
	ReplyTo   string `json:"reply_to,omitempty"` // empty for fire-and-forget flushes
}

func (SaveHistoryRequest) Kind() Kind              { return KindSaveHistory }
func (m SaveHistoryRequest) CorrelationID() string { return m.RequestID }

// SaveHistoryResponse acknowledges a save.
type SaveHistoryResponse struct {
	RequestID string `json:"request_id"`
	Err       string `json:"err,omitempty"`
}

func (SaveHistoryResponse) Kind() Kind              { return KindSaveHistoryResponse }
func (m SaveHistoryResponse) CorrelationID() string { return m.RequestID }

// StartServersRequest asks the MCP Server Manager to start its configured
// servers. Start failure is fatal to session bring-up.
type StartServersRequest struct {
	RequestID string `json:"request_id"`
	ReplyTo   string `json:"reply_to"`
}

func (StartServersRequest) Kind() Kind              { return KindStartServers }
func (m StartServersRequest) CorrelationID() string { return m.RequestID }

// StartServersResponse reports bring-up outcome and the discovered tools.
type StartServersResponse struct {
	RequestID string           `json:"request_id"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	Err       string           `json:"err,omitempty"`
}

func (StartServersResponse) Kind() Kind              { return KindStartServersResponse }
func (m StartServersResponse) CorrelationID() string { return m.RequestID }

// RefreshToolsRequest re-discovers the tool registry of running servers.
type RefreshToolsRequest struct {
	RequestID string `json:"request_id"`
	ReplyTo   string `json:"reply_to"`
}

func (RefreshToolsRequest) Kind() Kind              { return KindRefreshTools }
func (m RefreshToolsRequest) CorrelationID() string { return m.RequestID }

// RefreshToolsResponse reports the refreshed tool set.
type RefreshToolsResponse struct {
	RequestID string           `json:"request_id"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	Err       string           `json:"err,omitempty"`
}

func (RefreshToolsResponse) Kind() Kind              { return KindRefreshToolsResponse }
func (m RefreshToolsResponse) CorrelationID() string { return m.RequestID }
