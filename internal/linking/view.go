package linking

// View is what the operator sees. It is derived from state only.
type View struct {
	Open bool

	// Exactly one of the three input blocks is visible while Open.
	Form     bool
	Code     bool
	Password bool

	Locked         bool
	SubmitDisabled bool
	Status         string
}

func Render(state State, sess Session, busy bool) View {
	if state == StateIdle {
		return View{}
	}
	return View{
		Open:           true,
		Form:           state == StateAwaitingInitialSubmit,
		Code:           state == StateAwaitingCode,
		Password:       state == StateAwaitingTwoFactor,
		Locked:         sess.Locked,
		SubmitDisabled: busy,
		Status:         sess.Status,
	}
}
