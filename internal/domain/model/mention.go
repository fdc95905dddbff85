package model

import "strings"

// ExtractMentions parses @user and @org/team references from text. Targets
// are returned in first-seen order with exact repeats removed. A reference
// containing a slash is a team, anything else is a user.
func ExtractMentions(text string) []Target {
	var out []Target
	seen := make(map[Target]struct{})
	for i := 0; i < len(text); i++ {
		if text[i] != '@' || (i > 0 && isMentionChar(text[i-1])) {
			continue
		}
		if i+1 >= len(text) || !isMentionChar(text[i+1]) {
			continue
		}
		j := i + 1
		for j < len(text) && (isMentionChar(text[j]) || text[j] == '/') {
			j++
		}
		name := strings.Trim(text[i+1:j], "/-")
		i = j - 1
		if name == "" {
			continue
		}
		var t Target
		if org, team, ok := strings.Cut(name, "/"); ok {
			if org == "" || team == "" || strings.Contains(team, "/") {
				continue
			}
			t = Team(name)
		} else {
			t = User(name)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// isMentionChar reports whether c may appear in a GitHub login or team slug.
func isMentionChar(c byte) bool {
	return c == '-' || c == '_' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
