package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"pollkeeper/internal/telemetry"
	"pollkeeper/internal/types"
)

// memStore is an in-memory poll store that evaluates the same predicates as
// the SQL repositories.
type memStore struct {
	mu           sync.Mutex
	polls        map[string]*types.Poll
	participants []types.Participant
	voted        map[string]bool
	reminders    map[string]types.Reminder // key: participant|type

	// failure injection
	listWindowErr   error
	listExpiredErr  error
	pauseErr        error
	candidateErrFor map[string]error
	insertErr       error
	insertErrFor    map[string]error // keyed by poll id

	// call tracking
	pauseCalls   [][]string
	deleteCalls  [][]string
	insertCalls  [][]types.Reminder
	windowCalls  int
	reaperCutoff time.Time
	reaperCount  int
	reaperErr    error
}

func newMemStore() *memStore {
	return &memStore{
		polls:           make(map[string]*types.Poll),
		voted:           make(map[string]bool),
		reminders:       make(map[string]types.Reminder),
		candidateErrFor: make(map[string]error),
		insertErrFor:    make(map[string]error),
	}
}

func (s *memStore) addPoll(p types.Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = types.PollStatusLive
	}
	cp := p
	s.polls[p.ID] = &cp
}

func (s *memStore) addParticipant(p types.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = append(s.participants, p)
}

func (s *memStore) sortedPolls() []*types.Poll {
	out := make([]*types.Poll, 0, len(s.polls))
	for _, p := range s.polls {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) MarkInactiveDeleted(_ context.Context, _ time.Time, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reaperCutoff = cutoff
	return s.reaperCount, s.reaperErr
}

func (s *memStore) ListPurgeableIDs(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, p := range s.sortedPolls() {
		if p.Deleted && p.DeletedAt != nil && !p.DeletedAt.After(cutoff) {
			ids = append(ids, p.ID)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func (s *memStore) DeleteByIDs(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls = append(s.deleteCalls, append([]string(nil), ids...))
	n := 0
	for _, id := range ids {
		if _, ok := s.polls[id]; ok {
			delete(s.polls, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListExpiredLive(_ context.Context, now time.Time, limit int) ([]types.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listExpiredErr != nil {
		return nil, s.listExpiredErr
	}
	var out []types.Poll
	for _, p := range s.sortedPolls() {
		if p.Status == types.PollStatusLive && p.Deadline != nil && !p.Deadline.After(now) {
			out = append(out, *p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) PauseByIDs(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseCalls = append(s.pauseCalls, append([]string(nil), ids...))
	if s.pauseErr != nil {
		return 0, s.pauseErr
	}
	n := 0
	for _, id := range ids {
		if p, ok := s.polls[id]; ok && p.Status == types.PollStatusLive {
			p.Status = types.PollStatusPaused
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListInDeadlineWindow(_ context.Context, from, to time.Time, exclude []string, limit int) ([]types.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowCalls++
	if s.listWindowErr != nil {
		return nil, s.listWindowErr
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var out []types.Poll
	for _, p := range s.sortedPolls() {
		if skip[p.ID] || p.Deleted || p.Status != types.PollStatusLive || p.Deadline == nil {
			continue
		}
		if p.Deadline.Before(from) || p.Deadline.After(to) {
			continue
		}
		out = append(out, *p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) ListReminderCandidates(_ context.Context, pollID string, rt types.ReminderType) ([]types.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.candidateErrFor[pollID]; err != nil {
		return nil, err
	}
	var out []types.Participant
	for _, p := range s.participants {
		if p.PollID != pollID || p.Email == nil || p.Deleted || s.voted[p.ID] {
			continue
		}
		if _, sent := s.reminders[p.ID+"|"+string(rt)]; sent {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) InsertSkipDuplicates(ctx context.Context, rows []types.Reminder) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls = append(s.insertCalls, append([]types.Reminder(nil), rows...))
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	for _, r := range rows {
		if err := s.insertErrFor[r.PollID]; err != nil {
			return 0, err
		}
	}
	n := 0
	for _, r := range rows {
		k := r.ParticipantID + "|" + string(r.Type)
		if _, exists := s.reminders[k]; exists {
			continue
		}
		s.reminders[k] = r
		n++
	}
	return n, nil
}

// fakeQueue records enqueued emails and fails for configured recipients.
type fakeQueue struct {
	mu     sync.Mutex
	sent   []sentEmail
	failTo map[string]error

	// afterSend runs once an email has been accepted.
	afterSend func()
}

type sentEmail struct {
	Template types.EmailTemplate
	Req      types.EmailRequest
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failTo: make(map[string]error)}
}

func (q *fakeQueue) EnqueueTemplate(_ context.Context, template types.EmailTemplate, req types.EmailRequest) error {
	q.mu.Lock()
	if err := q.failTo[req.To]; err != nil {
		q.mu.Unlock()
		return err
	}
	q.sent = append(q.sent, sentEmail{Template: template, Req: req})
	hook := q.afterSend
	q.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sent)
}

// propsAs round-trips Props through JSON the way the SQS publisher does.
func propsAs[T any](req types.EmailRequest) T {
	var out T
	data, _ := json.Marshal(req.Props)
	_ = json.Unmarshal(data, &out)
	return out
}

type fakeReporter struct {
	mu      sync.Mutex
	errs    []error
	reports []telemetry.Report
}

func (r *fakeReporter) ReportException(_ context.Context, err error, report telemetry.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.reports = append(r.reports, report)
}

type fakeJobMetrics struct {
	mu    sync.Mutex
	calls []recordedJob
}

type recordedJob struct {
	job   string
	items int
	err   error
}

func (m *fakeJobMetrics) RecordJob(_ context.Context, job string, _ time.Duration, items int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedJob{job: job, items: items, err: err})
}

var errDB = errors.New("connection refused")

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
