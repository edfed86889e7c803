package live

// Role is who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entry is one transcript line.
type Entry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// AppendDelta returns entries with text added: appended to the last entry
// when it has the same role, otherwise as a new entry. entries is not
// modified.
func AppendDelta(entries []Entry, role Role, text string) []Entry {
	out := make([]Entry, len(entries), len(entries)+1)
	copy(out, entries)
	if text == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Role == role {
		out[n-1].Text += text
		return out
	}
	return append(out, Entry{Role: role, Text: text})
}
