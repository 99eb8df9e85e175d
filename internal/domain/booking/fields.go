package booking

import (
	"fmt"
	"slices"
)

// Form splits an appointment's custom fields into the ones answered by
// policy, the ones pre-filled from their placeholder, and the ones the
// user must answer. Field order is preserved in Required.
type Form struct {
	Fields   []CustomField
	Fixed    Answers
	Prefill  Answers
	Required []CustomField
}

// NewForm applies the fixed answers (field id -> value) first; a text
// field with a placeholder and no options is then treated as answered by
// its placeholder. Everything else is required.
func NewForm(fields []CustomField, fixed map[string]string) Form {
	f := Form{
		Fields:  append([]CustomField(nil), fields...),
		Fixed:   Answers{},
		Prefill: Answers{},
	}
	for _, fd := range fields {
		if v, ok := fixed[fd.ID]; ok {
			f.Fixed[fd.ID] = v
			continue
		}
		if fd.Placeholder != "" && len(fd.Options) == 0 {
			f.Prefill[fd.ID] = fd.Placeholder
			continue
		}
		f.Required = append(f.Required, fd)
	}
	return f
}

// NeedsInput reports whether any field must be answered by the user.
func (f Form) NeedsInput() bool { return len(f.Required) > 0 }

// Answers merges overrides over the pre-filled values and returns the
// full answer set. Fixed answers cannot be overridden.
func (f Form) Answers(overrides Answers) (Answers, error) {
	byID := make(map[string]CustomField, len(f.Fields))
	for _, fd := range f.Fields {
		byID[fd.ID] = fd
	}

	out := Answers{}
	for k, v := range f.Prefill {
		out[k] = v
	}
	for k, v := range overrides {
		fd, ok := byID[k]
		if !ok {
			return nil, fmt.Errorf("unknown field %q", k)
		}
		if _, fixed := f.Fixed[k]; fixed {
			continue
		}
		if v == "" {
			continue
		}
		if len(fd.Options) > 0 && !slices.Contains(fd.Options, v) {
			return nil, fmt.Errorf("field %q: %q is not one of the options", k, v)
		}
		out[k] = v
	}
	for k, v := range f.Fixed {
		out[k] = v
	}

	var missing []string
	for _, fd := range f.Fields {
		if out[fd.ID] == "" {
			missing = append(missing, fd.ID)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingFieldsError{IDs: missing}
	}
	return out, nil
}
