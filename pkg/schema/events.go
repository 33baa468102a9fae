package schema

// Domain event types published on the streaming hub and appended to the
// usage log. Subscribers (alerting, usage accounting) are best-effort and
// never block the operation that emitted the event.
const (
	EventRunStarted     = "run.started"
	EventRunWaiting     = "run.waiting_for_user"
	EventRunResumed     = "run.resumed"
	EventRunCompleted   = "run.completed"
	EventRunStalled     = "run.stalled"
	EventStepCompleted  = "step.completed"
	EventStepFailed     = "step.failed"
	EventTaskCreated    = "task.created"
	EventRecordCreated  = "record.created"
	EventProcessAdvance = "process.advanced"
	EventProcessDone    = "process.completed"
)
