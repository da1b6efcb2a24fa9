package engine

import "fmt"

// ValidationError reports the first mandatory question without an answer.
type ValidationError struct {
	Question string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("Questionnaire incomplete: Answer required for '%s'", e.Question)
}

// InvalidStateError reports a transition the stage machine does not allow.
type InvalidStateError struct {
	Status string
	Action string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a case in status %s", e.Action, e.Status)
}

// ConflictError reports a lost claim race.
type ConflictError struct {
	TaskID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("task %s is already claimed", e.TaskID)
}
