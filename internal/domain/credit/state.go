package credit

type Status string

const (
	StatusRequested  Status = "SOLICITADO"
	StatusInReview   Status = "EN_REVISION"
	StatusApproved   Status = "APROBADO"
	StatusRejected   Status = "RECHAZADO"
	StatusActive     Status = "ACTIVO"
	StatusCompleted  Status = "COMPLETADO"
	StatusWrittenOff Status = "CASTIGADO"
)

// transitions is the complete credit state machine. Disbursement moves an
// approved credit straight to ACTIVO.
var transitions = map[Status][]Status{
	StatusRequested: {StatusInReview, StatusApproved, StatusRejected},
	StatusInReview:  {StatusApproved, StatusRejected},
	StatusApproved:  {StatusActive},
	StatusActive:    {StatusCompleted, StatusWrittenOff},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsOpen reports whether the credit still carries obligations or may still be
// disbursed.
func (s Status) IsOpen() bool {
	switch s {
	case StatusRequested, StatusInReview, StatusApproved, StatusActive:
		return true
	}
	return false
}
