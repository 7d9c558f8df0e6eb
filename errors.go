package manager

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("manager: no store configured")
	ErrNoOracle        = errors.New("manager: no oracle configured")
	ErrNoGateway       = errors.New("manager: no approval gateway configured")
	ErrStoreClosed     = errors.New("manager: store closed")
	ErrMigrationFailed = errors.New("manager: migration failed")

	// Not found errors.
	ErrIncidentNotFound   = errors.New("manager: incident not found")
	ErrTaskNotFound       = errors.New("manager: task not found")
	ErrBatchNotFound      = errors.New("manager: batch not found")
	ErrQuestionNotFound   = errors.New("manager: question not found")
	ErrWorkflowNotFound   = errors.New("manager: no workflow found")
	ErrSuspensionNotFound = errors.New("manager: suspension not found")
	ErrJobNotFound        = errors.New("manager: job not found")

	// Conflict errors.
	ErrIncidentExists   = errors.New("manager: incident already exists")
	ErrTaskExists       = errors.New("manager: task already exists")
	ErrBatchExists      = errors.New("manager: batch already exists")
	ErrWorkflowExists   = errors.New("manager: workflow already exists")
	ErrQuestionExists   = errors.New("manager: question already exists")
	ErrJobAlreadyExists = errors.New("manager: job already exists")
	ErrBatchClaimed     = errors.New("manager: batch already claimed")
	ErrRevisionConflict = errors.New("manager: workflow revision conflict")

	// State errors.
	ErrInvalidTransition = errors.New("manager: invalid status transition")
	ErrQuestionAnswered  = errors.New("manager: question already answered")
	ErrAlreadyResolved   = errors.New("manager: suspension already resolved")
	ErrIncidentTerminal  = errors.New("manager: incident is closed or ignored")
	ErrLockHeld          = errors.New("manager: incident lock held")
)
