package domain

// EventName identifies a realtime event.
type EventName string

const (
	// Inbound, client to server.
	EventStartSession  EventName = "start_session"
	EventCandidateTurn EventName = "candidate_turn"

	// Outbound, server to client.
	EventTyping            EventName = "typing"
	EventInterviewerTurn   EventName = "interviewer_turn"
	EventSessionCompleting EventName = "session_completing"
	EventReportReady       EventName = "report_ready"
	EventError             EventName = "error"
)

// Event is a realtime message addressed to every client subscribed to SessionID.
type Event struct {
	Name      EventName      `json:"event"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// TypingEvent toggles the interviewer typing indicator.
func TypingEvent(sessionID string, on bool) Event {
	return Event{Name: EventTyping, SessionID: sessionID, Data: map[string]any{"on": on}}
}

// InterviewerTurnEvent carries one interviewer message.
func InterviewerTurnEvent(sessionID, text string) Event {
	return Event{Name: EventInterviewerTurn, SessionID: sessionID, Data: map[string]any{"text": text, "role": string(RoleAssistant)}}
}

// SessionCompletingEvent announces that report generation started.
func SessionCompletingEvent(sessionID, message string) Event {
	return Event{Name: EventSessionCompleting, SessionID: sessionID, Data: map[string]any{"message": message}}
}

// ReportReadyEvent announces that finalization succeeded.
func ReportReadyEvent(sessionID, message string) Event {
	return Event{Name: EventReportReady, SessionID: sessionID, Data: map[string]any{"message": message}}
}
