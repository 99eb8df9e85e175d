package booking

import (
	"strings"
	"time"
)

// Credentials are held in memory for the duration of a login attempt only.
type Credentials struct {
	Identifier string
	Secret     string
}

type Patient struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (p Patient) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type Center struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

// Motive is a platform code for a vaccine dose type. Search order is the
// order of the slice it lives in.
type Motive struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

type FieldKind string

const (
	FieldText   FieldKind = "text"
	FieldChoice FieldKind = "choice"
)

// CustomField is a platform-specific registration or consent question
// attached to an appointment.
type CustomField struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Kind        FieldKind `json:"kind"`
	Placeholder string    `json:"placeholder,omitempty"`
	Options     []string  `json:"options,omitempty"`
}

// Appointment is an offer discovered at one center. It is never mutated
// after discovery; InWindow returns a narrowed copy.
type Appointment struct {
	Center  Center        `json:"center"`
	Vaccine string        `json:"vaccine"`
	Slots   []time.Time   `json:"slots"`
	Address string        `json:"address"`
	ZipCode string        `json:"zipcode"`
	City    string        `json:"city"`
	Fields  []CustomField `json:"custom_fields"`
	MapURL  string        `json:"map_url,omitempty"`
}

// VaccineLabel turns the platform's regex-ish label ("pfizer.*third") into
// something readable.
func (a Appointment) VaccineLabel() string {
	return strings.TrimSpace(strings.ReplaceAll(a.Vaccine, ".*", " "))
}

// InWindow returns a copy of a keeping only slots inside w, and whether any
// slot remained.
func (a Appointment) InWindow(w Window) (Appointment, bool) {
	out := a
	out.Slots = nil
	for _, s := range a.Slots {
		if w.Contains(s) {
			out.Slots = append(out.Slots, s)
		}
	}
	out.Fields = append([]CustomField(nil), a.Fields...)
	return out, len(out.Slots) > 0
}

// Answers maps custom field ids to the submitted value.
type Answers map[string]string
