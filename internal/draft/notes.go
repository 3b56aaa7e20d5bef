package draft

import "strings"

// AIBlockHeader opens the AI-generated block inside the notes. Everything
// after it belongs to the block; everything before it is clinician text.
const AIBlockHeader = "--- AI Summary ---"

const blockSeparator = "\n\n"

// MergeNotes returns notes with summary placed in the AI block. An existing
// block is replaced, not duplicated. An empty summary removes the block.
func MergeNotes(notes, summary string) string {
	prefix := StripNotes(notes)
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return prefix
	}
	if prefix == "" {
		return AIBlockHeader + "\n" + summary
	}
	return prefix + blockSeparator + AIBlockHeader + "\n" + summary
}

// StripNotes removes the AI block and returns the clinician text exactly as
// it was before the block was merged.
func StripNotes(notes string) string {
	if strings.HasPrefix(notes, AIBlockHeader+"\n") {
		return ""
	}
	if i := strings.Index(notes, blockSeparator+AIBlockHeader+"\n"); i >= 0 {
		return notes[:i]
	}
	return notes
}

// ExtractSummary returns the content of the AI block, or "" if there is none.
func ExtractSummary(notes string) string {
	prefix := StripNotes(notes)
	if len(prefix) == len(notes) {
		return ""
	}
	rest := strings.TrimPrefix(notes[len(prefix):], blockSeparator)
	return strings.TrimPrefix(rest, AIBlockHeader+"\n")
}
