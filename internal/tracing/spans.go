package tracing

// Span attribute keys.
const (
	AttrRunID       = "run.id"
	AttrRound       = "round.index"
	AttrAgentID     = "agent.id"
	AttrAgentKind   = "agent.kind"
	AttrMessageID   = "message.id"
	AttrMessageKind = "message.kind"
	AttrAppended    = "round.appended"
	AttrUpdates     = "round.q_updates"
	AttrProduced    = "turn.produced"
)

// Span names.
const (
	SpanRun   = "society.run"
	SpanRound = "society.round"
	SpanTurn  = "agent.turn"
	SpanLearn = "agent.learn"
)
