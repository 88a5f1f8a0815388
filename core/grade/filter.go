package grade

// FilterVisible returns the student-facing view of `grades`: identity fields and visible
// assessments only. Hidden assessments are dropped, not blanked.
func FilterVisible(grades map[string]string, visible map[string]bool) map[string]string {
	view := make(map[string]string, len(grades))
	for col, v := range grades {
		if IsIdentityField(col) || visible[col] {
			view[col] = v
		}
	}
	return view
}
