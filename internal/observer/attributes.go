package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for gateway spans and metrics.
var (
	AttrCommand   = attribute.Key("gateway.command")
	AttrChatID    = attribute.Key("gateway.chat_id")
	AttrProject   = attribute.Key("gateway.project")
	AttrMode      = attribute.Key("gateway.mode")
	AttrGate      = attribute.Key("gateway.gate")
	AttrStage     = attribute.Key("gateway.stage")
	AttrRequestID = attribute.Key("gateway.request_id")
	AttrStatus    = attribute.Key("gateway.status")
)
