package service

// ValidationError reports request input the services refuse to act on.
// The API layer maps it to a 400 with errors.As.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalidInput(msg string) error { return &ValidationError{msg: msg} }
