package domain

// WorkflowStep is the user-visible progression of a batch
type WorkflowStep string

const (
	StepSetup    WorkflowStep = "SETUP"
	StepReview   WorkflowStep = "REVIEW"
	StepComplete WorkflowStep = "COMPLETE"
)

// ConfirmationEvent carries a settled (or re-queried) transaction outcome
// into the workflow event queue
type ConfirmationEvent struct {
	Record  *TransactionRecord
	Receipt Receipt
	Err     error
}
