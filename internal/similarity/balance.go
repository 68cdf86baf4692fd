package similarity

// unbalancedDelimiters reports grossly malformed code: bracket nesting that
// never closes or closes below zero. String and comment contexts are not
// tracked; the check only has to catch critical malformation, not lint.
func unbalancedDelimiters(text string) bool {
	var round, square, curly int
	for _, r := range text {
		switch r {
		case '(':
			round++
		case ')':
			round--
		case '[':
			square++
		case ']':
			square--
		case '{':
			curly++
		case '}':
			curly--
		}
		if round < -2 || square < -2 || curly < -2 {
			return true
		}
	}
	return round > 2 || square > 2 || curly > 2 || round < -2 || square < -2 || curly < -2
}
