package domain

import (
	"strings"

	m "gloom.dev/pkg/gloom/internal/model"
)

// Selection is the result of filtering the discovered tests of one artifact.
type Selection struct {
	Tests []m.TestCase
	// Total is the number of tests discovered before filtering.
	Total int
	// FilterMatchedNothing is true when tests exist but none matched.
	FilterMatchedNothing bool
}

// SelectTests keeps the tests whose name matches filter, in discovery order.
// An empty filter selects everything. By default the filter is a substring
// match; with exact it must equal the test name.
func SelectTests(all []m.TestCase, filter string, exact bool) Selection {
	selection := Selection{Total: len(all)}

	for _, test := range all {
		if matchesFilter(test.Name, filter, exact) {
			selection.Tests = append(selection.Tests, test)
		}
	}

	selection.FilterMatchedNothing = filter != "" && len(all) > 0 && len(selection.Tests) == 0

	return selection
}

func matchesFilter(name, filter string, exact bool) bool {
	switch {
	case filter == "":
		return true
	case exact:
		return name == filter
	default:
		return strings.Contains(name, filter)
	}
}
