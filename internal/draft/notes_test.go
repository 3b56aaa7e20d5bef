package draft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeNotes_ReplacesBlockAndKeepsClinicianText(t *testing.T) {
	clinician := "**Chẩn đoán:** Viêm họng"

	once := MergeNotes(clinician, "Bạn bị viêm họng cấp.")
	assert.Equal(t, clinician+"\n\n"+AIBlockHeader+"\nBạn bị viêm họng cấp.", once)

	again := MergeNotes(once, "Nghỉ ngơi và uống nhiều nước.")
	assert.Equal(t, clinician+"\n\n"+AIBlockHeader+"\nNghỉ ngơi và uống nhiều nước.", again)
	assert.Equal(t, clinician, StripNotes(again))
	assert.Equal(t, "Nghỉ ngơi và uống nhiều nước.", ExtractSummary(again))
}

func TestMergeNotes_IdempotentAndRoundTrips(t *testing.T) {
	notes := []string{
		"",
		"plain",
		"line one\nline two\n",
		"trailing spaces   ",
		"**Chẩn đoán:** Viêm họng",
		"ends with blank lines\n\n",
	}
	summaries := []string{"short", "multi\nline\nsummary", "Bạn bị viêm họng cấp."}

	for _, n := range notes {
		for _, s := range summaries {
			once := MergeNotes(n, s)
			assert.Equal(t, once, MergeNotes(once, s), "merge twice == merge once for %q", n)
			assert.Equal(t, n, StripNotes(once), "strip restores %q", n)
			assert.Equal(t, s, ExtractSummary(once))
		}
	}
}

func TestMergeNotes_EmptySummaryRemovesBlock(t *testing.T) {
	merged := MergeNotes("keep me", "ai text")
	assert.Equal(t, "keep me", MergeNotes(merged, "   "))
	assert.Equal(t, "", ExtractSummary("no block here"))
	assert.Equal(t, "no block here", StripNotes("no block here"))
}
