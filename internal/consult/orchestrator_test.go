package consult

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teleconsult-server/internal/appointment"
	"teleconsult-server/internal/draft"
	"teleconsult-server/internal/events"
	"teleconsult-server/internal/media"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/presence"
	"teleconsult-server/internal/queue"
	"teleconsult-server/internal/session"
)

var (
	doctor  = models.Actor{SubjectID: "doc-1", Role: models.RoleDoctor}
	patient = models.Actor{SubjectID: "pat-1", Role: models.RolePatient}
	other   = models.Actor{SubjectID: "doc-2", Role: models.RoleDoctor}
)

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := 0
	for _, n := range r.notes {
		if n.Type == typ {
			c++
		}
	}
	return c
}

type env struct {
	o       *Orchestrator
	store   *appointment.MemoryStore
	appts   *appointment.Manager
	drafts  *draft.Manager
	records *draft.MemoryRecordStore
	backend *presence.MemoryBackend
	channel *presence.Channel
	queue   *queue.MemoryQueue
	pub     *events.MemoryPublisher
	notes   *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zerolog.Nop()
	e := &env{
		store:   appointment.NewMemoryStore(),
		records: draft.NewMemoryRecordStore(),
		backend: presence.NewMemoryBackend(),
		queue:   queue.NewMemoryQueue(16, time.Millisecond, 5*time.Millisecond, log),
		pub:     &events.MemoryPublisher{},
		notes:   &recorder{},
	}
	e.appts = appointment.NewManager(e.store, e.pub, log)
	e.drafts = draft.NewManager(draft.NewMemoryLocalStore(), e.records, log, draft.WithPublisher(e.pub))
	e.channel = presence.NewChannel(e.backend, log)
	e.o = New(e.appts, e.drafts, e.channel, log,
		WithQueue(e.queue),
		WithPublisher(e.pub),
		WithNotifier(e.notes),
		WithMediaTracker(media.NewTracker()),
	)
	return e
}

// confirmed books an ONLINE appointment and confirms it.
func (e *env) confirmed(t *testing.T) string {
	t.Helper()
	a := &models.Appointment{
		DoctorID:      doctor.SubjectID,
		PatientID:     patient.SubjectID,
		Type:          models.TypeOnline,
		ScheduledDate: time.Now().AddDate(0, 0, 1),
		Slot:          "T5",
		Status:        models.StatusPending,
	}
	require.NoError(t, e.store.Create(context.Background(), a))
	_, err := e.appts.Confirm(context.Background(), doctor, a.ID)
	require.NoError(t, err)
	return a.ID
}

func (e *env) started(t *testing.T) string {
	t.Helper()
	id := e.confirmed(t)
	snap, err := e.o.Start(context.Background(), doctor, id)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Clock.Elapsed)
	assert.False(t, snap.Clock.Extended)
	return id
}

func (e *env) status(t *testing.T, id string) models.AppointmentStatus {
	t.Helper()
	a, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func sampleDraft() models.DraftRecord {
	return models.DraftRecord{
		ChiefComplaint:   "Đau họng",
		DiagnosisPrimary: "Viêm họng cấp",
		ICDCodes:         []string{"J02.9"},
		VitalSigns:       models.VitalSigns{Temperature: "37.5"},
		Prescriptions:    []models.Prescription{{Name: "Paracetamol", Dosage: "500mg"}},
		Notes:            "**Chẩn đoán:** Viêm họng",
	}
}

func TestScenario_EndNowAtPrompt(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	assert.Equal(t, models.StatusOngoing, e.status(t, id))

	st, err := e.o.Presence(ctx, patient, id)
	require.NoError(t, err)
	assert.True(t, st.DoctorOnline)

	prompts := 0
	for i := 0; i < 1800; i++ {
		evs, err := e.o.Tick(ctx, id)
		require.NoError(t, err)
		for _, ev := range evs {
			if ev == session.EventExtensionPrompt {
				prompts++
			}
		}
	}
	assert.Equal(t, 1, prompts)
	assert.Equal(t, 1, e.notes.count(NoteExtensionPrompt))

	snap, err := e.o.Session(ctx, patient, id)
	require.NoError(t, err)
	assert.True(t, snap.AwaitingDecision)

	snap, err = e.o.EndNow(ctx, doctor, id)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, snap.Phase)
	require.NotNil(t, snap.Record)
	assert.Equal(t, id, snap.Record.AppointmentID)

	assert.Equal(t, models.StatusFinished, e.status(t, id))
	assert.Equal(t, 1, e.records.Count())
	assert.Equal(t, 1, e.notes.count(NoteFinished))

	st, err = e.o.Presence(ctx, patient, id)
	require.NoError(t, err)
	assert.False(t, st.DoctorOnline)

	_, err = e.o.Session(ctx, doctor, id)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestScenario_ExtendThenAutoTerminate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)

	evs, err := e.o.AdvanceTo(ctx, id, 1800)
	require.NoError(t, err)
	assert.Equal(t, []session.Event{session.EventExtensionPrompt}, evs)

	snap, err := e.o.Extend(ctx, doctor, id)
	require.NoError(t, err)
	assert.True(t, snap.Clock.Extended)
	assert.Equal(t, 2400, snap.EffectiveBudget)

	_, err = e.o.Extend(ctx, doctor, id)
	assert.ErrorIs(t, err, session.ErrAlreadyExtended)

	warnings := 0
	for elapsed := 1801; elapsed < 2400; elapsed++ {
		evs, err := e.o.AdvanceTo(ctx, id, elapsed)
		require.NoError(t, err)
		for _, ev := range evs {
			assert.NotEqual(t, session.EventAutoTerminate, ev)
			if ev == session.EventOneMinuteWarning {
				assert.Equal(t, 2340, elapsed)
				warnings++
			}
		}
	}
	assert.Equal(t, 1, warnings)
	assert.Equal(t, models.StatusOngoing, e.status(t, id))

	evs, err = e.o.AdvanceTo(ctx, id, 2400)
	require.NoError(t, err)
	assert.Contains(t, evs, session.EventAutoTerminate)
	assert.Equal(t, models.StatusFinished, e.status(t, id))
	assert.Equal(t, 1, e.records.Count())
}

func TestUnansweredPromptNeverTerminates(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)

	_, err := e.o.AdvanceTo(ctx, id, 1800)
	require.NoError(t, err)
	evs, err := e.o.AdvanceTo(ctx, id, 10_000)
	require.NoError(t, err)
	assert.Empty(t, evs)

	snap, err := e.o.Session(ctx, doctor, id)
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, snap.Phase)
	assert.Equal(t, models.StatusOngoing, e.status(t, id))
}

func TestEndNowNeedsPrompt(t *testing.T) {
	e := newEnv(t)
	id := e.started(t)
	_, err := e.o.EndNow(context.Background(), doctor, id)
	assert.ErrorIs(t, err, session.ErrNoPendingPrompt)
	_, err = e.o.Extend(context.Background(), doctor, id)
	assert.ErrorIs(t, err, session.ErrNoPendingPrompt)
}

func TestRequestEnd_ConfirmationGate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)

	_, err := e.o.SaveDraft(ctx, doctor, id, draft.MergeAISummary(sampleDraft(), "Bạn bị viêm họng cấp."))
	require.NoError(t, err)

	_, err = e.o.ConfirmEnd(ctx, doctor, id)
	assert.ErrorIs(t, err, ErrNothingToConfirm)

	snap, err := e.o.RequestEnd(ctx, doctor, id)
	require.ErrorIs(t, err, ErrConfirmationRequired)
	assert.True(t, snap.ConfirmationPending)
	assert.Equal(t, models.StatusOngoing, e.status(t, id))
	assert.Equal(t, 0, e.records.Count())
	assert.Equal(t, 1, e.notes.count(NoteConfirmationRequired))

	snap, err = e.o.ConfirmEnd(ctx, doctor, id)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, snap.Phase)
	assert.Contains(t, snap.Record.Notes, "Bạn bị viêm họng cấp.")
	assert.Equal(t, models.StatusFinished, e.status(t, id))
}

func TestRequestEnd_WithoutSummaryFinishesDirectly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	_, err := e.o.SaveDraft(ctx, doctor, id, sampleDraft())
	require.NoError(t, err)

	snap, err := e.o.RequestEnd(ctx, doctor, id)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, snap.Phase)
	assert.Equal(t, "Viêm họng cấp", snap.Record.DiagnosisPrimary)
}

func TestAutoTerminateSkipsConfirmation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	_, err := e.o.SaveDraft(ctx, doctor, id, draft.MergeAISummary(sampleDraft(), "AI text"))
	require.NoError(t, err)

	_, err = e.o.AdvanceTo(ctx, id, 1800)
	require.NoError(t, err)
	_, err = e.o.Extend(ctx, doctor, id)
	require.NoError(t, err)
	_, err = e.o.AdvanceTo(ctx, id, 2400)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, e.status(t, id))
}

func TestFinishIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	s := e.o.lookup(id)
	require.NotNil(t, s)

	first, err := e.o.finish(ctx, doctor, s)
	require.NoError(t, err)
	second, err := e.o.finish(ctx, doctor, s)
	require.NoError(t, err)

	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, 1, e.records.Count())
	assert.Len(t, e.pub.OfType(events.TypeRecordCommitted), 1)
}

func TestConcurrentEndsCommitOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	s := e.o.lookup(id)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.o.finish(ctx, doctor, s)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, e.records.Count())
	assert.Equal(t, models.StatusFinished, e.status(t, id))
}

func TestScenario_DraftCommitFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	d := sampleDraft()
	_, err := e.o.SaveDraft(ctx, doctor, id, d)
	require.NoError(t, err)

	e.records.FailNext(1)
	snap, err := e.o.RequestEnd(ctx, doctor, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommitPending)
	assert.ErrorIs(t, err, draft.ErrCommitFailed)
	assert.Equal(t, PhaseCommitPending, snap.Phase)
	assert.NotEmpty(t, snap.LastError)

	assert.Equal(t, models.StatusOngoing, e.status(t, id))
	assert.Equal(t, 0, e.records.Count())

	loaded, err := e.o.LoadDraft(ctx, doctor, id)
	require.NoError(t, err)
	assert.Equal(t, d.ChiefComplaint, loaded.ChiefComplaint)
	assert.Equal(t, d.DiagnosisPrimary, loaded.DiagnosisPrimary)
	assert.Equal(t, d.ICDCodes, loaded.ICDCodes)
	assert.Equal(t, d.Prescriptions, loaded.Prescriptions)
	assert.Equal(t, d.Notes, loaded.Notes)

	assert.Equal(t, 1, e.queue.Len())
	assert.Len(t, e.pub.OfType(events.TypeCommitPending), 1)
	assert.Equal(t, 1, e.notes.count(NoteCommitPending))

	_, err = e.o.Resume(ctx, doctor, id)
	assert.ErrorIs(t, err, ErrCommitPending)
	_, err = e.o.AdvanceTo(ctx, id, 2000)
	require.NoError(t, err)

	snap, err = e.o.RetryCommit(ctx, doctor, id)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, snap.Phase)
	assert.Equal(t, models.StatusFinished, e.status(t, id))
	assert.Equal(t, 1, e.records.Count())
}

func TestCommitRetryWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t)
	id := e.started(t)

	e.records.FailNext(2)
	_, err := e.o.RequestEnd(ctx, doctor, id)
	require.ErrorIs(t, err, draft.ErrCommitFailed)

	go e.queue.Consume(ctx, e.o.ProcessCommitJob)

	require.Eventually(t, func() bool {
		a, err := e.store.Get(ctx, id)
		return err == nil && a.Status == models.StatusFinished
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, e.records.Count())
}

func TestCommitJobSurvivesManualRetryInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t)
	id := e.started(t)

	e.records.FailNext(1000)
	_, err := e.o.RequestEnd(ctx, doctor, id)
	require.ErrorIs(t, err, ErrCommitPending)
	require.Equal(t, 1, e.queue.Len())

	s := e.o.lookup(id)
	require.NotNil(t, s)
	setPhase := func(p Phase) {
		s.mu.Lock()
		s.phase = p
		s.mu.Unlock()
	}

	// A manual retry holds the session while the worker picks the job up.
	setPhase(PhaseFinishing)
	handled := make(chan error, 64)
	go e.queue.Consume(ctx, func(ctx context.Context, job queue.CommitJob) error {
		err := e.o.ProcessCommitJob(ctx, job)
		select {
		case handled <- err:
		default:
		}
		return err
	})
	select {
	case err := <-handled:
		assert.ErrorIs(t, err, ErrCommitInFlight)
	case <-time.After(2 * time.Second):
		t.Fatal("commit job was not handled")
	}

	// The manual retry fails as well; the job it raced with must still come back.
	setPhase(PhaseCommitPending)
	_, _ = e.o.RetryCommit(ctx, doctor, id)
	assert.Equal(t, models.StatusOngoing, e.status(t, id))

	e.records.FailNext(0)
	require.Eventually(t, func() bool {
		a, err := e.store.Get(ctx, id)
		return err == nil && a.Status == models.StatusFinished
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, e.records.Count())
}

func TestCommitFailuresKeepOneJobQueued(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)

	e.records.FailNext(1000)
	_, err := e.o.RequestEnd(ctx, doctor, id)
	require.ErrorIs(t, err, ErrCommitPending)
	_, err = e.o.RetryCommit(ctx, doctor, id)
	require.ErrorIs(t, err, ErrCommitPending)
	assert.Equal(t, 1, e.queue.Len(), "a failed manual retry does not queue a second job")

	// The queued job finishes the appointment once the store is back.
	e.records.FailNext(0)
	require.NoError(t, e.o.ProcessCommitJob(ctx, queue.CommitJob{AppointmentID: id}))
	assert.Equal(t, models.StatusFinished, e.status(t, id))
}

func TestProcessCommitJob_WithoutLiveSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	_, err := e.o.SaveDraft(ctx, doctor, id, sampleDraft())
	require.NoError(t, err)

	// Simulate a restart: the process forgot the session.
	e.o.mu.Lock()
	delete(e.o.sessions, id)
	e.o.mu.Unlock()

	require.NoError(t, e.o.ProcessCommitJob(ctx, queue.CommitJob{AppointmentID: id}))
	assert.Equal(t, models.StatusFinished, e.status(t, id))
	rec, err := e.o.Record(ctx, patient, id)
	require.NoError(t, err)
	assert.Equal(t, "Viêm họng cấp", rec.DiagnosisPrimary)

	assert.NoError(t, e.o.ProcessCommitJob(ctx, queue.CommitJob{AppointmentID: id}), "already finished")
	assert.Equal(t, 1, e.records.Count())
}

func TestLeaveKeepsAppointmentOngoing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	_, err := e.o.SaveDraft(ctx, doctor, id, sampleDraft())
	require.NoError(t, err)
	_, err = e.o.AdvanceTo(ctx, id, 1800)
	require.NoError(t, err)
	_, err = e.o.Extend(ctx, doctor, id)
	require.NoError(t, err)

	require.NoError(t, e.o.Leave(ctx, doctor, id))
	assert.Equal(t, models.StatusOngoing, e.status(t, id))
	assert.Equal(t, 0, e.records.Count())
	_, err = e.o.Session(ctx, doctor, id)
	assert.ErrorIs(t, err, ErrNoSession)
	st, err := e.o.Presence(ctx, patient, id)
	require.NoError(t, err)
	assert.False(t, st.DoctorOnline)

	e.o.now = func() time.Time { return time.Now().Add(2000 * time.Second) }
	snap, err := e.o.Resume(ctx, doctor, id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.Clock.Elapsed, 2000)
	assert.True(t, snap.Clock.Extended, "extension survives a resume")

	_, err = e.o.Extend(ctx, doctor, id)
	assert.ErrorIs(t, err, session.ErrAlreadyExtended)

	loaded, err := e.o.LoadDraft(ctx, doctor, id)
	require.NoError(t, err)
	assert.Equal(t, "Viêm họng cấp", loaded.DiagnosisPrimary)
}

func TestResumeWithoutPriorSessionPromptsPastBudget(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	e.o.mu.Lock()
	e.o.sessions[id].stop()
	delete(e.o.sessions, id)
	e.o.mu.Unlock()

	e.o.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	snap, err := e.o.Resume(ctx, doctor, id)
	require.NoError(t, err)
	assert.True(t, snap.AwaitingDecision)
	assert.False(t, snap.Clock.Extended)
}

func TestPatientLeaveOnlyClearsPatient(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	require.NoError(t, e.o.SetPresence(ctx, patient, id, true))
	require.NoError(t, e.o.Leave(ctx, patient, id))

	st, err := e.o.Presence(ctx, doctor, id)
	require.NoError(t, err)
	assert.True(t, st.DoctorOnline)
	assert.False(t, st.PatientOnline)
	_, err = e.o.Session(ctx, doctor, id)
	assert.NoError(t, err)
}

func TestDoctorPresenceRequiresOngoing(t *testing.T) {
	e := newEnv(t)
	id := e.confirmed(t)
	assert.ErrorIs(t, e.o.SetPresence(context.Background(), doctor, id, true), ErrNotOngoing)
	assert.NoError(t, e.o.SetPresence(context.Background(), patient, id, true))
}

func TestSessionControlIsForTheDoctor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)

	_, err := e.o.RequestEnd(ctx, patient, id)
	assert.ErrorIs(t, err, appointment.ErrForbidden)
	_, err = e.o.Extend(ctx, other, id)
	assert.ErrorIs(t, err, appointment.ErrForbidden)
	_, err = e.o.Session(ctx, other, id)
	assert.ErrorIs(t, err, appointment.ErrForbidden)
	_, err = e.o.SaveDraft(ctx, patient, id, sampleDraft())
	assert.ErrorIs(t, err, appointment.ErrForbidden)
}

func TestStartRequiresConfirmedOnline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	_, err := e.o.Start(ctx, doctor, id)
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
}

func TestSaveDraftAfterFinishIsRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	_, err := e.o.RequestEnd(ctx, doctor, id)
	require.NoError(t, err)
	_, err = e.o.SaveDraft(ctx, doctor, id, sampleDraft())
	assert.ErrorIs(t, err, ErrNotOngoing)
}

func TestChat(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)

	m, err := e.o.SendMessage(ctx, patient, id, "client-1", "Em bị đau họng")
	require.NoError(t, err)
	assert.Equal(t, models.RolePatient, m.SenderRole)
	again, err := e.o.SendMessage(ctx, patient, id, "client-1", "Em bị đau họng")
	require.NoError(t, err)
	assert.Equal(t, m.Seq, again.Seq)

	_, err = e.o.SendMessage(ctx, other, id, "", "hi")
	assert.ErrorIs(t, err, appointment.ErrForbidden)

	history, err := e.o.History(ctx, doctor, id, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestGenerateSummaryFallback(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)
	_, err := e.o.SaveDraft(ctx, doctor, id, sampleDraft())
	require.NoError(t, err)

	res, err := e.o.GenerateSummary(ctx, doctor, id)
	require.NoError(t, err)
	assert.Equal(t, draft.SourceFallback, res.Source)
	assert.True(t, res.Draft.HasAISummary())

	d, err := e.o.RemoveSummary(ctx, doctor, id)
	require.NoError(t, err)
	assert.Equal(t, "**Chẩn đoán:** Viêm họng", d.Notes)
}

func TestReportMedia(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.started(t)

	require.NoError(t, e.o.ReportMedia(ctx, patient, id, media.Signals{RemoteConnected: true}))
	require.NoError(t, e.o.ReportMedia(ctx, patient, id, media.Signals{RemoteConnected: true}))
	assert.Equal(t, 1, e.notes.count(NoteMedia))
	assert.ErrorIs(t, e.o.ReportMedia(ctx, other, id, media.Signals{}), appointment.ErrForbidden)
}

func TestChannelOutageDoesNotStopSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.confirmed(t)
	e.backend.FailNext(10)

	snap, err := e.o.Start(ctx, doctor, id)
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, snap.Phase)
	_, err = e.o.Tick(ctx, id)
	assert.NoError(t, err)
}
