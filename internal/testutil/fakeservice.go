package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
)

// Fake collaborator method names, used with Fail and Calls.
const (
	MethodList         = "ListMessages"
	MethodListModified = "ListModifiedMessages"
	MethodCreate       = "CreateMessage"
	MethodUpdate       = "UpdateMessage"
	MethodDelete       = "DeleteMessage"
	MethodMarkRead     = "MarkChatRead"
	MethodUnread       = "UnreadCountsDetailed"
	MethodListTeams    = "ListTeams"
	MethodCreateTeam   = "CreateTeam"
	MethodUpdateTeam   = "UpdateTeam"
)

// FakeService is an in-memory msgapi.Service seen from one viewing user.
type FakeService struct {
	// SelfID is the viewing user.
	SelfID int64

	// BeforeCall runs before every method while no lock is held. Tests use it
	// to block or observe calls.
	BeforeCall func(method string)

	mu       sync.Mutex
	messages map[int64]models.Message
	teams    map[int64]models.Team
	unread   models.UnreadCounts
	nextID   int64
	nextTeam int64
	clock    time.Time
	failures map[string]error
	calls    map[string]int
	marks    []models.Recipient
	queries  []msgapi.ListQuery
}

var _ msgapi.Service = (*FakeService)(nil)

// NewFakeService creates an empty fake for selfID.
func NewFakeService(selfID int64) *FakeService {
	return &FakeService{
		SelfID:   selfID,
		messages: make(map[int64]models.Message),
		teams:    make(map[int64]models.Team),
		unread:   make(models.UnreadCounts),
		clock:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Seed stores messages as-is. Ids must be positive server ids.
func (f *FakeService) Seed(msgs ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range msgs {
		n, ok := msg.ID.Server()
		if !ok {
			panic(fmt.Sprintf("fake service: seed needs a server id, got %s", msg.ID))
		}
		if msg.UpdatedAt.IsZero() {
			msg.UpdatedAt = f.tick()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = msg.UpdatedAt
		}
		f.messages[n] = msg.Clone()
		if n > f.nextID {
			f.nextID = n
		}
	}
}

// Modify edits a stored message and bumps its updatedAt.
func (f *FakeService) Modify(id int64, fn func(*models.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		panic(fmt.Sprintf("fake service: no message %d", id))
	}
	fn(&msg)
	msg.UpdatedAt = f.tick()
	f.messages[id] = msg
}

// Now returns the fake clock.
func (f *FakeService) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

// SetUnread replaces the unread counts reported to the viewer.
func (f *FakeService) SetUnread(counts models.UnreadCounts) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread = counts.Clone()
}

// Fail makes method return err until cleared with a nil err.
func (f *FakeService) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// Calls returns how often method was invoked.
func (f *FakeService) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// ReadMarks returns the recipients passed to MarkChatRead.
func (f *FakeService) ReadMarks() []models.Recipient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Recipient(nil), f.marks...)
}

// Queries returns every ListMessages query received.
func (f *FakeService) Queries() []msgapi.ListQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]msgapi.ListQuery(nil), f.queries...)
}

func (f *FakeService) enter(method string) error {
	if f.BeforeCall != nil {
		f.BeforeCall(method)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.failures[method]
}

func (f *FakeService) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *FakeService) ListMessages(ctx context.Context, q msgapi.ListQuery) ([]models.Message, error) {
	if err := f.enter(MethodList); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	var want models.ConversationKey
	if q.Recipient != nil {
		want = models.RecipientKey(*q.Recipient)
	}
	search := strings.ToLower(q.Search)

	out := make([]models.Message, 0)
	for id, msg := range f.messages {
		switch {
		case q.SinceID > 0 && id <= q.SinceID:
			continue
		case q.BeforeID > 0 && id >= q.BeforeID:
			continue
		case want != "" && models.KeyFor(msg, f.SelfID) != want:
			continue
		case search != "" && !strings.Contains(strings.ToLower(msg.Content), search):
			continue
		case !f.visible(msg):
			continue
		}
		out = append(out, msg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })

	switch {
	case q.Descending():
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[:q.Limit]
		}
	case q.Limit > 0 && len(out) > q.Limit:
		if q.SinceID > 0 {
			out = out[:q.Limit]
		} else {
			out = out[len(out)-q.Limit:]
		}
	}
	return out, nil
}

func (f *FakeService) ListModifiedMessages(ctx context.Context, after time.Time) ([]models.Message, error) {
	if err := f.enter(MethodListModified); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Message, 0)
	for _, msg := range f.messages {
		if msg.UpdatedAt.After(after) && f.visible(msg) {
			out = append(out, msg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out, nil
}

func (f *FakeService) CreateMessage(ctx context.Context, req msgapi.CreateRequest) (models.Message, error) {
	if err := f.enter(MethodCreate); err != nil {
		return models.Message{}, err
	}
	if err := req.Validate(); err != nil {
		return models.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	now := f.tick()
	msgType, _ := models.ParseMessageType(string(req.Type))
	msg := models.Message{
		ID:        models.ServerID(f.nextID),
		SenderID:  f.SelfID,
		Recipient: req.Recipient,
		Content:   req.Content,
		Type:      msgType,
		ParentID:  req.ParentID,
		LinkURL:   req.LinkURL,
		LinkTitle: req.LinkTitle,
		CreatedAt: now,
		UpdatedAt: now,
		ReadByMe:  true,
	}
	f.messages[f.nextID] = msg
	return msg.Clone(), nil
}

func (f *FakeService) UpdateMessage(ctx context.Context, id int64, req msgapi.UpdateRequest) (models.Message, error) {
	if err := f.enter(MethodUpdate); err != nil {
		return models.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return models.Message{}, fmt.Errorf("message %d not found", id)
	}
	if req.Content != nil {
		msg.Content = *req.Content
	}
	if req.Type != nil {
		msg.Type = *req.Type
	}
	if req.LinkURL != nil {
		msg.LinkURL = *req.LinkURL
	}
	if req.LinkTitle != nil {
		msg.LinkTitle = *req.LinkTitle
	}
	msg.UpdatedAt = f.tick()
	f.messages[id] = msg
	return msg.Clone(), nil
}

func (f *FakeService) DeleteMessage(ctx context.Context, id int64) error {
	if err := f.enter(MethodDelete); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[id]; !ok {
		return fmt.Errorf("message %d not found", id)
	}
	delete(f.messages, id)
	return nil
}

func (f *FakeService) MarkChatRead(ctx context.Context, recipient models.Recipient) error {
	if err := f.enter(MethodMarkRead); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, recipient)
	delete(f.unread, models.RecipientKey(recipient))
	return nil
}

func (f *FakeService) UnreadCountsDetailed(ctx context.Context) (models.UnreadCounts, error) {
	if err := f.enter(MethodUnread); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread.Clone(), nil
}

func (f *FakeService) ListTeams(ctx context.Context) ([]models.Team, error) {
	if err := f.enter(MethodListTeams); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Team, 0, len(f.teams))
	for _, team := range f.teams {
		out = append(out, team)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeService) CreateTeam(ctx context.Context, req msgapi.TeamRequest) (models.Team, error) {
	if err := f.enter(MethodCreateTeam); err != nil {
		return models.Team{}, err
	}
	team := models.Team{Name: strings.TrimSpace(req.Name), MemberIDs: models.NormalizeMemberIDs(append(append([]int64(nil), req.MemberIDs...), f.SelfID))}
	if err := team.Validate(); err != nil {
		return models.Team{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTeam++
	team.ID = f.nextTeam
	f.teams[team.ID] = team
	return team, nil
}

func (f *FakeService) UpdateTeam(ctx context.Context, id int64, req msgapi.TeamRequest) (models.Team, error) {
	if err := f.enter(MethodUpdateTeam); err != nil {
		return models.Team{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.teams[id]; !ok {
		return models.Team{}, fmt.Errorf("team %d not found", id)
	}
	team := models.Team{ID: id, Name: strings.TrimSpace(req.Name), MemberIDs: models.NormalizeMemberIDs(req.MemberIDs)}
	if err := team.Validate(); err != nil {
		return models.Team{}, err
	}
	f.teams[id] = team
	return team, nil
}

// visible reports whether the viewer takes part in msg's conversation.
// Caller holds f.mu.
func (f *FakeService) visible(msg models.Message) bool {
	if msg.Recipient.Kind == models.RecipientTeam {
		team, ok := f.teams[msg.Recipient.ID]
		return !ok || team.HasMember(f.SelfID)
	}
	return msg.SenderID == f.SelfID || msg.Recipient.ID == f.SelfID
}
