package utils

import "regexp"

var tokenRe = regexp.MustCompile(`{{\s*(\w+)\s*}}`)

// ParseVariables returns the set of {{token}} names present in input.
func ParseVariables(input string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, match := range tokenRe.FindAllStringSubmatch(input, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}

// ReplaceVariables substitutes every {{token}} in input with its value.
// Unknown tokens are left untouched.
func ReplaceVariables(input string, variables map[string]string) string {
	return tokenRe.ReplaceAllStringFunc(input, func(match string) string {
		name := tokenRe.FindStringSubmatch(match)[1]
		if value, ok := variables[name]; ok {
			return value
		}
		return match
	})
}
