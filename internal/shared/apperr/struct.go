package apperr

type Kind string

type AppError struct {
	Kind      Kind
	PublicMsg string            // message safe to return to the caller
	Fields    map[string]string // field-level validation errors (optional)
	Err       error             // internal error (logs only)
}
