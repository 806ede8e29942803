package memutils

// Validatable is used by the DebugValidate method to allow it to act upon
// all types with a Validate method
type Validatable interface {
	Validate() error
}

// ValidatorFunc adapts a plain func to Validatable
type ValidatorFunc func() error

func (f ValidatorFunc) Validate() error {
	return f()
}
