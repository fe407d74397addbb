// Package strings holds helpers for list-valued request parameters.
package strings

import (
	"strings"
)

// SplitList flattens repeated and comma separated values into one list.
// Elements are trimmed; empty elements and repeats are dropped. First
// occurrence order is preserved.
//
//	SplitList([]string{"42, 43", "42", " ", "44"})
//	// []string{"42", "43", "44"}
func SplitList(values []string) []string {
	var result []string
	seen := make(map[string]struct{})
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			result = append(result, part)
		}
	}
	return result
}
