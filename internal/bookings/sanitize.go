package bookings

import (
	"strings"
	"unicode"
)

// trimAndNormalize collapses whitespace runs and drops control characters.
func trimAndNormalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	var result strings.Builder
	var lastWasSpace bool
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !lastWasSpace {
				result.WriteRune(' ')
				lastWasSpace = true
			}
		case unicode.IsControl(r):
		default:
			result.WriteRune(r)
			lastWasSpace = false
		}
	}
	return result.String()
}

var markupReplacer = strings.NewReplacer("<", "", ">", "", "\x00", "")

// sanitizeText strips markup delimiters from single-line input.
func sanitizeText(s string) string {
	return trimAndNormalize(markupReplacer.Replace(s))
}

// sanitizeNotes keeps line breaks but strips markup and control characters.
func sanitizeNotes(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = sanitizeText(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func sanitizeCreateInput(in CreateInput) CreateInput {
	in.ExamType = sanitizeText(in.ExamType)
	in.ExamLocation = sanitizeText(in.ExamLocation)
	in.Notes = sanitizeNotes(in.Notes)
	in.Patient.FirstName = sanitizeText(in.Patient.FirstName)
	in.Patient.LastName = sanitizeText(in.Patient.LastName)
	in.Patient.DateOfBirth = strings.TrimSpace(in.Patient.DateOfBirth)
	in.Patient.Phone = sanitizeText(in.Patient.Phone)
	in.Patient.Email = strings.ToLower(sanitizeText(in.Patient.Email))
	return in
}
