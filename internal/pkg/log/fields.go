package log

const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldService   = "service"
	FieldOperation = "op"

	FieldUserID    = "user_id"
	FieldClientID  = "client_id"
	FieldMessageID = "message_id"
	FieldTriggerID = "trigger_id"
	FieldScope     = "chat_scope"
	FieldTurnState = "turn_state"
)
