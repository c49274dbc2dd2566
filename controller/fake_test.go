package controller

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"sync"
	"time"

	"airlock.evalgo.org/events"
	"airlock.evalgo.org/request"
	"airlock.evalgo.org/uploader"
	"airlock.evalgo.org/workspace"
)

// fakeStore is an in-memory Store/Runner for controller tests. It keeps
// rows in maps and assembles aggregates the way the gorm store does.
type fakeStore struct {
	mu       sync.Mutex
	seq      int64
	requests map[string]request.Request
	groups   map[string]request.FileGroup
	files    map[string]request.RequestFile
	votes    map[string]request.FileVote
	comments map[string]request.Comment
	jobs     map[string]uploader.Job
	audits   []request.AuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests: map[string]request.Request{},
		groups:   map[string]request.FileGroup{},
		files:    map[string]request.RequestFile{},
		votes:    map[string]request.FileVote{},
		comments: map[string]request.Comment{},
		jobs:     map[string]uploader.Job{},
	}
}

// tick produces strictly increasing creation times so ordering by
// CreatedAt is deterministic.
func (s *fakeStore) tick() time.Time {
	s.seq++
	return time.Unix(0, s.seq).UTC()
}

func (s *fakeStore) RunInTx(_ context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func (s *fakeStore) assemble(id string) (*request.Request, bool) {
	row, ok := s.requests[id]
	if !ok {
		return nil, false
	}
	r := row

	var groups []request.FileGroup
	for _, g := range s.groups {
		if g.RequestID != id {
			continue
		}
		group := g
		for _, f := range s.files {
			if f.GroupID != group.ID {
				continue
			}
			file := f
			for _, v := range s.votes {
				if v.FileID == file.ID {
					file.Votes = append(file.Votes, v)
				}
			}
			sort.Slice(file.Votes, func(i, j int) bool { return file.Votes[i].Reviewer < file.Votes[j].Reviewer })
			group.Files = append(group.Files, file)
		}
		sort.Slice(group.Files, func(i, j int) bool { return group.Files[i].Relpath < group.Files[j].Relpath })
		for _, c := range s.comments {
			if c.GroupID == group.ID {
				group.Comments = append(group.Comments, c)
			}
		}
		sort.Slice(group.Comments, func(i, j int) bool { return group.Comments[i].CreatedAt.Before(group.Comments[j].CreatedAt) })
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].CreatedAt.Before(groups[j].CreatedAt) })
	r.Groups = groups
	return &r, true
}

func (s *fakeStore) GetRequest(_ context.Context, id string) (*request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.assemble(id)
	if !ok {
		return nil, request.NotFoundf("release request %s not found", id)
	}
	return r, nil
}

func (s *fakeStore) GetRequestForUpdate(ctx context.Context, id string) (*request.Request, error) {
	return s.GetRequest(ctx, id)
}

func (s *fakeStore) ActiveRequest(_ context.Context, workspaceName, author string) (*request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.requests {
		if r.Workspace == workspaceName && r.Author == author && r.Status.IsActive() {
			full, _ := s.assemble(id)
			return full, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) RequestsForUser(_ context.Context, author string) ([]request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []request.Request
	for id, r := range s.requests {
		if r.Author == author {
			full, _ := s.assemble(id)
			out = append(out, *full)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) OutstandingReviews(_ context.Context) ([]request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []request.Request
	for id, r := range s.requests {
		if r.Status.IsUnderReview() {
			full, _ := s.assemble(id)
			out = append(out, *full)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) ReleasedHashes(_ context.Context, workspaceName string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := map[string]bool{}
	for _, f := range s.files {
		r, ok := s.requests[f.RequestID]
		if ok && r.Workspace == workspaceName && r.Status == request.StatusReleased && f.FileType == request.FileTypeOutput {
			released[f.ContentHash] = true
		}
	}
	return released, nil
}

func (s *fakeStore) CreateRequest(_ context.Context, r *request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.CreatedAt = s.tick()
	s.requests[r.ID] = *r
	return nil
}

func (s *fakeStore) SaveRequest(_ context.Context, r *request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *r
	row.Groups = nil
	s.requests[r.ID] = row
	return nil
}

func (s *fakeStore) CreateGroup(_ context.Context, g *request.FileGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.CreatedAt = s.tick()
	row := *g
	row.Files = nil
	row.Comments = nil
	s.groups[g.ID] = row
	return nil
}

func (s *fakeStore) SaveGroup(_ context.Context, g *request.FileGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *g
	row.Files = nil
	row.Comments = nil
	s.groups[g.ID] = row
	return nil
}

func (s *fakeStore) CreateFile(_ context.Context, f *request.RequestFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.files {
		if existing.RequestID == f.RequestID && existing.Relpath == f.Relpath {
			return request.Conflictf("file %s already exists on request", f.Relpath)
		}
	}
	row := *f
	row.Votes = nil
	s.files[f.ID] = row
	return nil
}

func (s *fakeStore) SaveFile(_ context.Context, f *request.RequestFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *f
	row.Votes = nil
	s.files[f.ID] = row
	return nil
}

func (s *fakeStore) DeleteFile(_ context.Context, f *request.RequestFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.votes {
		if v.FileID == f.ID {
			delete(s.votes, id)
		}
	}
	delete(s.files, f.ID)
	return nil
}

func (s *fakeStore) UpsertVote(_ context.Context, v *request.FileVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.votes {
		if existing.FileID == v.FileID && existing.Reviewer == v.Reviewer {
			existing.Vote = v.Vote
			existing.ReviewTurn = v.ReviewTurn
			s.votes[id] = existing
			return nil
		}
	}
	s.votes[v.ID] = *v
	return nil
}

func (s *fakeStore) DeleteVote(_ context.Context, v *request.FileVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.votes, v.ID)
	return nil
}

func (s *fakeStore) DeleteVotesForFile(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.votes {
		if v.FileID == fileID {
			delete(s.votes, id)
		}
	}
	return nil
}

func (s *fakeStore) CreateComment(_ context.Context, c *request.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.CreatedAt = s.tick()
	s.comments[c.ID] = *c
	return nil
}

func (s *fakeStore) SaveComment(_ context.Context, c *request.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ID] = *c
	return nil
}

func (s *fakeStore) DeleteComment(_ context.Context, c *request.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.comments, c.ID)
	return nil
}

func (s *fakeStore) AppendAudit(_ context.Context, entry *request.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.CreatedAt = s.tick()
	s.audits = append(s.audits, *entry)
	return nil
}

func (s *fakeStore) CreateUploadJobs(_ context.Context, jobs []uploader.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return nil
}

func (s *fakeStore) UploadJobsForRequest(_ context.Context, requestID string) ([]uploader.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uploader.Job
	for _, job := range s.jobs {
		if job.RequestID == requestID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Relpath < out[j].Relpath })
	return out, nil
}

func (s *fakeStore) ResetFailedUploadJobs(_ context.Context, requestID string, now time.Time, deadline time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, job := range s.jobs {
		if job.RequestID == requestID && job.State == uploader.JobFailed {
			job.State = uploader.JobPending
			job.Attempts = 0
			job.NextAttemptAt = now
			job.ClaimedUntil = nil
			job.DeadlineAt = now.Add(deadline)
			job.LastError = ""
			s.jobs[id] = job
			n++
		}
	}
	return n, nil
}

// auditKinds returns the recorded audit kinds in order.
func (s *fakeStore) auditKinds() []request.AuditKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]request.AuditKind, len(s.audits))
	for i, e := range s.audits {
		kinds[i] = e.Kind
	}
	return kinds
}

// fakeWorkspaces is an in-memory WorkspaceView.
type fakeWorkspaces struct {
	files map[string]map[string][]byte // workspace → relpath → bytes
}

func newFakeWorkspaces() *fakeWorkspaces {
	return &fakeWorkspaces{files: map[string]map[string][]byte{}}
}

func (w *fakeWorkspaces) write(workspaceName, relpath string, content []byte) {
	if w.files[workspaceName] == nil {
		w.files[workspaceName] = map[string][]byte{}
	}
	w.files[workspaceName][relpath] = content
}

func (w *fakeWorkspaces) Exists(name string) bool {
	_, ok := w.files[name]
	return ok
}

func (w *fakeWorkspaces) List(name, dir string) ([]workspace.Entry, error) {
	ws, ok := w.files[name]
	if !ok {
		return nil, request.NotFoundf("workspace %s not found", name)
	}
	var entries []workspace.Entry
	for relpath, content := range ws {
		sum := sha256.Sum256(content)
		entries = append(entries, workspace.Entry{
			Name:        relpath,
			Relpath:     relpath,
			Size:        int64(len(content)),
			ContentHash: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Relpath < entries[j].Relpath })
	return entries, nil
}

func (w *fakeWorkspaces) FileMetadata(name, relpath string) (workspace.FileMetadata, error) {
	content, ok := w.files[name][relpath]
	if !ok {
		return workspace.FileMetadata{}, request.NotFoundf("file %s not found in workspace %s", relpath, name)
	}
	sum := sha256.Sum256(content)
	return workspace.FileMetadata{
		Relpath:     relpath,
		Size:        int64(len(content)),
		Timestamp:   time.Unix(1700000000, 0).UTC(),
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

func (w *fakeWorkspaces) Open(name, relpath string) (io.ReadCloser, error) {
	content, ok := w.files[name][relpath]
	if !ok {
		return nil, request.NotFoundf("file %s not found in workspace %s", relpath, name)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (w *fakeWorkspaces) ListFilesUnder(name, dir string) ([]string, error) {
	ws, ok := w.files[name]
	if !ok {
		return nil, request.NotFoundf("workspace %s not found", name)
	}
	var paths []string
	for relpath := range ws {
		if dir == "" || dir == "." || relpath == dir || len(relpath) > len(dir) && relpath[:len(dir)+1] == dir+"/" {
			paths = append(paths, relpath)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// captureSink records emitted events.
type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Emit(_ context.Context, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) names() []events.Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]events.Name, len(s.events))
	for i, e := range s.events {
		names[i] = e.Name
	}
	return names
}

// testActor is a minimal request.Actor.
type testActor struct {
	name       string
	checker    bool
	workspaces map[string]bool
}

func (a testActor) Name() string          { return a.name }
func (a testActor) IsOutputChecker() bool { return a.checker }
func (a testActor) HasWorkspaceAccess(workspaceName string) bool {
	return a.workspaces[workspaceName]
}

func author(name string, workspaceNames ...string) testActor {
	access := map[string]bool{}
	for _, ws := range workspaceNames {
		access[ws] = true
	}
	return testActor{name: name, workspaces: access}
}

func checker(name string) testActor {
	return testActor{name: name, checker: true, workspaces: map[string]bool{}}
}
