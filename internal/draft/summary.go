package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"teleconsult-server/internal/models"
)

// ErrAIGeneration means the summary service failed or returned nothing usable.
var ErrAIGeneration = errors.New("ai summary generation failed")

// Summarizer is the AI text-generation collaborator.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// SummarySource tells which path produced a summary.
type SummarySource string

const (
	SourceAI       SummarySource = "ai"
	SourceFallback SummarySource = "fallback"
)

// SummaryResult is the outcome of GenerateAISummary. Cause is set, wrapping
// ErrAIGeneration, when the fallback was used.
type SummaryResult struct {
	Draft  models.DraftRecord `json:"draft"`
	Source SummarySource      `json:"source"`
	Cause  error              `json:"-"`
}

const summaryTimeout = 20 * time.Second

// GenerateAISummary asks the summarizer for a summary of the saved draft and
// merges it into the notes. When the service fails, a summary composed from
// the structured fields is merged instead; generation never fails the call.
func (m *Manager) GenerateAISummary(ctx context.Context, appointmentID string) (*SummaryResult, error) {
	d, err := m.Load(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	res := &SummaryResult{Source: SourceAI}
	text, cause := m.summarize(ctx, d)
	if cause != nil {
		m.log.Warn().Err(cause).Str("appointment_id", appointmentID).Msg("using composed summary")
		res.Source = SourceFallback
		res.Cause = cause
		text = ComposeSummary(d)
	}

	res.Draft, err = m.Save(ctx, appointmentID, MergeAISummary(d, text))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Manager) summarize(ctx context.Context, d models.DraftRecord) (string, error) {
	if m.summarizer == nil {
		return "", fmt.Errorf("%w: no summarizer configured", ErrAIGeneration)
	}
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	text, err := m.summarizer.Summarize(ctx, Prompt(d))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAIGeneration, err)
	}
	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, AIBlockHeader) {
		return "", fmt.Errorf("%w: unusable output", ErrAIGeneration)
	}
	return text, nil
}

// Prompt renders the structured draft for the summarizer. The AI block is
// left out so a summary is never summarised again.
func Prompt(d models.DraftRecord) string {
	var b strings.Builder
	b.WriteString("Write a short patient-facing summary of this consultation.\n\n")
	b.WriteString(structured(d))
	if notes := strings.TrimSpace(StripNotes(d.Notes)); notes != "" {
		b.WriteString("\nClinician notes:\n")
		b.WriteString(notes)
		b.WriteString("\n")
	}
	return b.String()
}

// ComposeSummary builds a summary from the structured fields alone. It is
// the fallback when the AI service is unavailable.
func ComposeSummary(d models.DraftRecord) string {
	s := strings.TrimSpace(structured(d))
	if s == "" {
		return "No findings recorded."
	}
	return s
}

func structured(d models.DraftRecord) string {
	var lines []string
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Chief complaint", d.ChiefComplaint)
	add("Diagnosis", d.DiagnosisPrimary)
	add("Other diagnoses", strings.Join(lo.Compact(d.DiagnosisSecondary), ", "))
	add("ICD-10", strings.Join(lo.Compact(d.ICDCodes), ", "))
	add("Vital signs", vitals(d.VitalSigns))

	rx := lo.FilterMap(d.Prescriptions, func(p models.Prescription, _ int) (string, bool) {
		if strings.TrimSpace(p.Name) == "" {
			return "", false
		}
		parts := lo.Compact([]string{p.Name, p.Dosage, p.Frequency, p.Duration})
		return "- " + strings.Join(parts, ", "), true
	})
	if len(rx) > 0 {
		lines = append(lines, "Prescriptions:")
		lines = append(lines, rx...)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func vitals(v models.VitalSigns) string {
	pairs := [][2]string{
		{"T", v.Temperature},
		{"BP", v.BloodPressure},
		{"HR", v.HeartRate},
		{"SpO2", v.OxygenSaturation},
		{"Wt", v.Weight},
		{"Ht", v.Height},
	}
	out := lo.FilterMap(pairs, func(p [2]string, _ int) (string, bool) {
		val := strings.TrimSpace(p[1])
		return p[0] + " " + val, val != ""
	})
	return strings.Join(out, ", ")
}
