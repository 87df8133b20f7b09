// Package memory is an in-process store backend with the same transactional
// guarantees as the Postgres backend: per-opportunity write serialisation and
// all-or-nothing visibility of each mutation. It backs STORE_DRIVER=memory and
// the test suites.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"asirinvest/core-service/internal/model"
)

type pairKey struct{ user, opp int64 }

// Phase selects when an injected fault fires relative to the commit.
type Phase int

const (
	BeforeCommit Phase = iota
	AfterCommit
)

type fault struct {
	phase Phase
	err   error
	left  int
}

// Store implements every component store interface in memory.
type Store struct {
	mu sync.RWMutex

	keyMu sync.Mutex
	keys  map[int64]*sync.Mutex

	opps          map[int64]*model.Opportunity
	nextOppID     int64
	votes         map[pairKey]model.Vote
	comments      map[int64][]model.Comment
	nextCommentID int64
	ndas          map[pairKey]model.NDAAcceptance
	provenance    map[int64][]model.ProvenanceRecord
	flags         []model.TamperFlag

	faultMu sync.Mutex
	faults  map[string][]*fault

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		keys:       make(map[int64]*sync.Mutex),
		opps:       make(map[int64]*model.Opportunity),
		votes:      make(map[pairKey]model.Vote),
		comments:   make(map[int64][]model.Comment),
		ndas:       make(map[pairKey]model.NDAAcceptance),
		provenance: make(map[int64][]model.ProvenanceRecord),
		faults:     make(map[string][]*fault),
		now:        time.Now,
	}
}

// Fail makes the next `times` calls of op return err at the given phase.
// With AfterCommit the mutation is applied before err is returned, which
// models a lost acknowledgement.
func (s *Store) Fail(op string, phase Phase, err error, times int) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = append(s.faults[op], &fault{phase: phase, err: err, left: times})
}

func (s *Store) fault(op string, phase Phase) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	for _, f := range s.faults[op] {
		if f.phase == phase && f.left > 0 {
			f.left--
			return f.err
		}
	}
	return nil
}

// Mutate edits a stored opportunity behind the services' backs, the way an
// out-of-band database write would. Used to exercise tamper detection.
func (s *Store) Mutate(id int64, fn func(o *model.Opportunity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opps[id]
	if !ok {
		return model.ErrNotFound
	}
	fn(o)
	return nil
}

// Seed stores o as an already listed opportunity and returns it with its id.
// Fingerprint fields are kept as given.
func (s *Store) Seed(o model.Opportunity) model.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOppID++
	o.ID = s.nextOppID
	o.Listed = true
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.stamp()
		o.UpdatedAt = o.CreatedAt
	}
	cp := o
	s.opps[o.ID] = &cp
	return o
}

// TamperFlags returns the flags raised so far, oldest first.
func (s *Store) TamperFlags() []model.TamperFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.TamperFlag(nil), s.flags...)
}

// OpenTamperFlags returns the flags awaiting review, newest first.
func (s *Store) OpenTamperFlags(ctx context.Context) ([]model.TamperFlag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flags := s.TamperFlags()
	for i, j := 0, len(flags)-1; i < j; i, j = i+1, j-1 {
		flags[i], flags[j] = flags[j], flags[i]
	}
	return flags, nil
}

// lock serialises writers of one opportunity's aggregate.
func (s *Store) lock(id int64) func() {
	s.keyMu.Lock()
	m, ok := s.keys[id]
	if !ok {
		m = &sync.Mutex{}
		s.keys[id] = m
	}
	s.keyMu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *Store) stamp() time.Time { return s.now().UTC().Truncate(time.Microsecond) }

// ─── Base opportunity store ──────────────────────────────────────────────────

// InsertDraft stores a new unlisted opportunity and assigns its id.
func (s *Store) InsertDraft(ctx context.Context, o model.Opportunity) (model.Opportunity, error) {
	if err := ctx.Err(); err != nil {
		return model.Opportunity{}, err
	}
	if err := s.fault("InsertDraft", BeforeCommit); err != nil {
		return model.Opportunity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOppID++
	now := s.stamp()
	o.ID = s.nextOppID
	o.Listed = false
	o.CreatedAt, o.UpdatedAt = now, now
	o.LikesCount, o.DislikesCount, o.CommentsCount = 0, 0, 0
	o.FingerprintHash, o.FingerprintVersion = "", 0
	o.FingerprintTimestamp = time.Time{}
	cp := o
	s.opps[o.ID] = &cp
	return o, nil
}

// Publish marks a stamped opportunity as listed.
func (s *Store) Publish(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opps[id]
	if !ok {
		return model.ErrNotFound
	}
	if !o.Stamped() {
		return errors.New("cannot list an unstamped opportunity")
	}
	o.Listed = true
	o.UpdatedAt = s.stamp()
	return nil
}

// LoadOpportunity returns a copy of the stored opportunity.
func (s *Store) LoadOpportunity(ctx context.Context, id int64) (model.Opportunity, error) {
	if err := ctx.Err(); err != nil {
		return model.Opportunity{}, err
	}
	if err := s.fault("LoadOpportunity", BeforeCommit); err != nil {
		return model.Opportunity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.opps[id]
	if !ok {
		return model.Opportunity{}, model.ErrNotFound
	}
	return *o, nil
}

// ListOpportunities returns one page of listed opportunities, newest first.
func (s *Store) ListOpportunities(ctx context.Context, q model.ListQuery) ([]model.Opportunity, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []model.Opportunity
	for _, o := range s.opps {
		if !o.Listed || (q.Sector != "" && o.Sector != q.Sector) {
			continue
		}
		all = append(all, *o)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := len(all)
	start := (q.Page - 1) * q.PerPage
	if start >= total {
		return []model.Opportunity{}, total, nil
	}
	end := min(start+q.PerPage, total)
	return all[start:end], total, nil
}

// ─── Fingerprint store ───────────────────────────────────────────────────────

// InsertFirstStamp writes version 1 unless the opportunity is already stamped.
func (s *Store) InsertFirstStamp(ctx context.Context, rec model.ProvenanceRecord) (model.ProvenanceRecord, error) {
	unlock := s.lock(rec.OpportunityID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return model.ProvenanceRecord{}, err
	}
	if err := s.fault("InsertFirstStamp", BeforeCommit); err != nil {
		return model.ProvenanceRecord{}, err
	}

	s.mu.Lock()
	o, ok := s.opps[rec.OpportunityID]
	if !ok {
		s.mu.Unlock()
		return model.ProvenanceRecord{}, model.ErrNotFound
	}
	if o.Stamped() {
		first := model.ProvenanceRecord{
			OpportunityID: o.ID,
			Kind:          model.ProvenanceStamp,
			Version:       o.FingerprintVersion,
			Hash:          o.FingerprintHash,
			StampedAt:     o.FingerprintTimestamp,
		}
		if recs := s.provenance[o.ID]; len(recs) > 0 {
			first = recs[0]
		}
		s.mu.Unlock()
		return first, nil
	}
	o.FingerprintHash = rec.Hash
	o.FingerprintTimestamp = rec.StampedAt
	o.FingerprintVersion = rec.Version
	s.provenance[o.ID] = append(s.provenance[o.ID], rec)
	s.mu.Unlock()

	return rec, s.fault("InsertFirstStamp", AfterCommit)
}

// ApplyRestamp runs fn under the opportunity's lock and commits its result.
func (s *Store) ApplyRestamp(ctx context.Context, id int64, edit model.ContentEdit,
	fn func(current model.Opportunity) (model.ProvenanceRecord, bool, error)) (model.ProvenanceRecord, error) {
	unlock := s.lock(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return model.ProvenanceRecord{}, err
	}
	if err := s.fault("ApplyRestamp", BeforeCommit); err != nil {
		return model.ProvenanceRecord{}, err
	}

	cur, err := s.LoadOpportunity(ctx, id)
	if err != nil {
		return model.ProvenanceRecord{}, err
	}
	rec, changed, err := fn(cur)
	if err != nil || !changed {
		return rec, err
	}

	s.mu.Lock()
	o := s.opps[id]
	o.Title = edit.Title
	o.Description = edit.Description
	o.FingerprintHash = rec.Hash
	o.FingerprintTimestamp = rec.StampedAt
	o.FingerprintVersion = rec.Version
	o.UpdatedAt = s.stamp()
	s.provenance[id] = append(s.provenance[id], rec)
	s.mu.Unlock()
	return rec, nil
}

// ProvenanceHistory returns the log oldest first.
func (s *Store) ProvenanceHistory(ctx context.Context, id int64) ([]model.ProvenanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.opps[id]; !ok {
		return nil, model.ErrNotFound
	}
	return append([]model.ProvenanceRecord(nil), s.provenance[id]...), nil
}

// InsertDisclosure appends a disclosure once per recipient.
func (s *Store) InsertDisclosure(ctx context.Context, rec model.ProvenanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fault("InsertDisclosure", BeforeCommit); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.opps[rec.OpportunityID]; !ok {
		return model.ErrNotFound
	}
	for _, r := range s.provenance[rec.OpportunityID] {
		if r.Kind == model.ProvenanceDisclosure && r.RecipientID == rec.RecipientID {
			return nil
		}
	}
	s.provenance[rec.OpportunityID] = append(s.provenance[rec.OpportunityID], rec)
	return nil
}

// InsertTamperFlag records a flag for manual review. It reports false when
// a flag for the same finding is already open.
func (s *Store) InsertTamperFlag(ctx context.Context, f model.TamperFlag) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, open := range s.flags {
		if open.OpportunityID == f.OpportunityID && open.Version == f.Version && open.Reason == f.Reason {
			return false, nil
		}
	}
	s.flags = append(s.flags, f)
	return true, nil
}

// StampedOpportunityIDs lists stamped opportunities in id order.
func (s *Store) StampedOpportunityIDs(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int64
	for id, o := range s.opps {
		if o.Stamped() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ─── NDA store ───────────────────────────────────────────────────────────────

// InsertAcceptance stores a once and returns the stored row.
func (s *Store) InsertAcceptance(ctx context.Context, a model.NDAAcceptance) (model.NDAAcceptance, error) {
	if err := ctx.Err(); err != nil {
		return model.NDAAcceptance{}, err
	}
	if err := s.fault("InsertAcceptance", BeforeCommit); err != nil {
		return model.NDAAcceptance{}, err
	}
	s.mu.Lock()
	if _, ok := s.opps[a.OpportunityID]; !ok {
		s.mu.Unlock()
		return model.NDAAcceptance{}, model.ErrNotFound
	}
	k := pairKey{a.UserID, a.OpportunityID}
	if existing, ok := s.ndas[k]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	a.AcceptedAt = s.stamp()
	s.ndas[k] = a
	s.mu.Unlock()
	return a, s.fault("InsertAcceptance", AfterCommit)
}

// Acceptance returns the recorded acceptance, if any.
func (s *Store) Acceptance(ctx context.Context, userID, oppID int64) (model.NDAAcceptance, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.NDAAcceptance{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.ndas[pairKey{userID, oppID}]
	return a, ok, nil
}

// ─── Vote store ──────────────────────────────────────────────────────────────

// ApplyVote runs decide under the opportunity's lock and applies the change
// and both counter deltas in one critical section.
func (s *Store) ApplyVote(ctx context.Context, userID, oppID int64,
	decide func(prev *model.VoteType) (model.VoteChange, error)) (model.Tally, error) {
	unlock := s.lock(oppID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return model.Tally{}, err
	}
	if err := s.fault("ApplyVote", BeforeCommit); err != nil {
		return model.Tally{}, err
	}

	s.mu.RLock()
	o, ok := s.opps[oppID]
	if !ok || !o.Listed {
		s.mu.RUnlock()
		return model.Tally{}, model.ErrNotFound
	}
	var prev *model.VoteType
	if v, ok := s.votes[pairKey{userID, oppID}]; ok {
		t := v.Type
		prev = &t
	}
	s.mu.RUnlock()

	change, err := decide(prev)
	if err != nil {
		return model.Tally{}, err
	}

	s.mu.Lock()
	o = s.opps[oppID]
	k := pairKey{userID, oppID}
	now := s.stamp()
	switch change.Op {
	case model.VoteOpInsert:
		s.votes[k] = model.Vote{UserID: userID, OpportunityID: oppID, Type: change.Type, CreatedAt: now, UpdatedAt: now}
	case model.VoteOpSwitch:
		v := s.votes[k]
		v.Type = change.Type
		v.UpdatedAt = now
		s.votes[k] = v
	}
	o.LikesCount += change.LikesDelta
	o.DislikesCount += change.DislikesDelta
	tally := model.Tally{Likes: o.LikesCount, Dislikes: o.DislikesCount}
	s.mu.Unlock()

	return tally, s.fault("ApplyVote", AfterCommit)
}

// UserVote returns the caller's ledger row, if any.
func (s *Store) UserVote(ctx context.Context, userID, oppID int64) (model.Vote, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Vote{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[pairKey{userID, oppID}]
	return v, ok, nil
}

// ─── Comment store ───────────────────────────────────────────────────────────

// InsertComment appends c and bumps comments_count together. A repeated
// client token returns the comment already stored.
func (s *Store) InsertComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	unlock := s.lock(c.OpportunityID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return model.Comment{}, err
	}
	if err := s.fault("InsertComment", BeforeCommit); err != nil {
		return model.Comment{}, err
	}

	s.mu.Lock()
	o, ok := s.opps[c.OpportunityID]
	if !ok || !o.Listed {
		s.mu.Unlock()
		return model.Comment{}, model.ErrNotFound
	}
	for _, existing := range s.comments[c.OpportunityID] {
		if c.ClientToken != "" && existing.ClientToken == c.ClientToken {
			s.mu.Unlock()
			return existing, nil
		}
	}
	s.nextCommentID++
	c.ID = s.nextCommentID
	c.CreatedAt = s.stamp()
	s.comments[c.OpportunityID] = append(s.comments[c.OpportunityID], c)
	o.CommentsCount++
	s.mu.Unlock()

	return c, s.fault("InsertComment", AfterCommit)
}

// CommentByToken finds a comment by its client token.
func (s *Store) CommentByToken(ctx context.Context, oppID int64, token string) (model.Comment, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Comment{}, false, err
	}
	if err := s.fault("CommentByToken", BeforeCommit); err != nil {
		return model.Comment{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.comments[oppID] {
		if c.ClientToken == token {
			return c, true, nil
		}
	}
	return model.Comment{}, false, nil
}

// ListComments returns up to limit comments newest first, strictly after cursor.
func (s *Store) ListComments(ctx context.Context, oppID int64, after *model.CommentCursor, limit int) ([]model.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.opps[oppID]; !ok {
		return nil, model.ErrNotFound
	}
	all := append([]model.Comment(nil), s.comments[oppID]...)
	sort.Slice(all, func(i, j int) bool { return newer(all[i].CreatedAt, all[i].ID, all[j].CreatedAt, all[j].ID) })

	out := make([]model.Comment, 0, limit)
	for _, c := range all {
		if after != nil && !newer(after.CreatedAt, after.ID, c.CreatedAt, c.ID) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newer(at time.Time, id int64, than time.Time, thanID int64) bool {
	if !at.Equal(than) {
		return at.After(than)
	}
	return id > thanID
}

// ─── Stats source ────────────────────────────────────────────────────────────

// ComputeStats aggregates the platform totals from the ledgers.
func (s *Store) ComputeStats(ctx context.Context) (model.Stats, error) {
	if err := ctx.Err(); err != nil {
		return model.Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := model.Stats{SectorDistribution: []model.SectorCount{}, ComputedAt: s.now().UTC()}
	sectors := map[string]int{}
	for _, o := range s.opps {
		if !o.Listed {
			continue
		}
		st.TotalOpportunities++
		st.TotalVotes += o.LikesCount + o.DislikesCount
		st.TotalComments += o.CommentsCount
		sectors[o.Sector]++
	}
	for sector, n := range sectors {
		st.SectorDistribution = append(st.SectorDistribution, model.SectorCount{Sector: sector, Count: n})
	}
	sort.Slice(st.SectorDistribution, func(i, j int) bool {
		a, b := st.SectorDistribution[i], st.SectorDistribution[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Sector < b.Sector
	})
	return st, nil
}
