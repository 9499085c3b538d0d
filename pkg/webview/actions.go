package webview

// Commands sent by the webview.
const (
	ActionSendChatMessage     = "sendChatMessage"
	ActionStopGeneration      = "stopGeneration"
	ActionSwitchSession       = "switchSession"
	ActionCreateSession       = "createSession"
	ActionGetWorkspaceContext = "getWorkspaceContext"
	ActionListSessions        = "listSessions"
	ActionConfirmToolCall     = "confirmToolCall"
	ActionRestartServer       = "restartServer"
	ActionGetServerStatus     = "getServerStatus"
)

// Events pushed to the webview.
const (
	EventServerStatus            = "serverStatus"
	EventChatResponse            = "chatResponse"
	EventGenerationFinished      = "generationFinished"
	EventError                   = "error"
	EventSessionLoaded           = "sessionLoaded"
	EventSessionsList            = "sessionsList"
	EventWorkspaceContext        = "workspaceContext"
	EventToolConfirmationRequest = "toolConfirmationRequest"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
	ErrorCodeNotReady      = "NOT_READY"
	ErrorCodeBusy          = "BUSY"
	ErrorCodeUnreachable   = "UNREACHABLE"
	ErrorCodeHTTP          = "HTTP_ERROR"
	ErrorCodeStream        = "STREAM_ERROR"
	ErrorCodeServer        = "SERVER_ERROR"
	ErrorCodeConfiguration = "CONFIGURATION_FAILED"
)
