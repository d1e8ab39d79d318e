package task

// Equal reports whether two task references denote the same task.
//
// Both absent is vacuously equal; exactly one absent is not. Otherwise the
// argument lists must have equal length and equal elements at every position.
func Equal(a, b *ProjectTask) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return SameArgs(a.Args, b.Args)
}

// SameArgs compares two argument lists position by position.
func SameArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
