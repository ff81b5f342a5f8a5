package mail

// requiredFields are checked in this order after the content check.
var requiredFields = []string{FieldTo, FieldSubject, FieldFrom}

// Validate reports the first reason m cannot be sent, as a *ValidationError.
// Content is checked first, then to, subject and from.
func Validate(m Message) error {
	if !m.Has(FieldText) && !m.Has(FieldHTML) {
		return &ValidationError{
			Field:  FieldText,
			Reason: "'text' or 'html' fields required",
		}
	}

	for _, field := range requiredFields {
		if !m.Has(field) {
			return &ValidationError{
				Field:  field,
				Reason: "missing required argument " + field,
			}
		}
	}

	return nil
}
