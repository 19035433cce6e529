package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"discourse/internal/llm"
	"discourse/internal/models"
	"discourse/internal/prompts"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InitMetrics registers with the global prometheus registry, so tests
// share one instance.
var (
	testMetricsOnce sync.Once
	testMetrics     *Metrics
)

func newTestMetrics() *Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = InitMetrics()
	})
	return testMetrics
}

// fakeCaller dispatches on the schema name and fills the branch outputs
// configured on it. failSchema makes that one branch fail.
type fakeCaller struct {
	tutor      tutorOutput
	completed  []bool
	harmful    bool
	offTopic   bool
	cleanup    languageCheckOutput
	failSchema string
}

func (f *fakeCaller) Complete(_ context.Context, req llm.Request, out any) error {
	if req.Schema.Name == f.failSchema {
		return &llm.Error{Kind: llm.KindStatus, Status: 500, Err: fmt.Errorf("injected failure")}
	}

	switch v := out.(type) {
	case *tutorOutput:
		*v = f.tutor
	case *subtaskOutput:
		v.Completed = append([]bool(nil), f.completed...)
	case *moderationOutput:
		v.Harmful = f.harmful
	case *offTopicOutput:
		v.OffTopic = f.offTopic
	case *languageCheckOutput:
		if f.cleanup.RevisedText == "" && !f.cleanup.ContainsForeignLanguage {
			// Default: echo the input back unchanged.
			v.ContainsForeignLanguage = false
			v.RevisedText = req.History[len(req.History)-1].Content
		} else {
			*v = f.cleanup
		}
	default:
		return fmt.Errorf("unexpected output type %T", out)
	}
	return nil
}

// fakeStore is an in-memory ConversationStore enforcing the CAS append.
type fakeStore struct {
	conv        *models.Conversation
	getCalls    int
	appendCalls int
	failAppend  bool
}

func (f *fakeStore) GetByID(_ context.Context, id primitive.ObjectID) (*models.Conversation, error) {
	f.getCalls++
	if f.conv == nil || f.conv.ID != id {
		return nil, ErrNotFound
	}
	copied := *f.conv
	return &copied, nil
}

func (f *fakeStore) AppendTurn(_ context.Context, id primitive.ObjectID, expectedHistoryLen int,
	userMsg, assistantMsg models.ConversationMessage,
	subtaskCompleted []bool, warning models.ConversationWarning) (*models.Conversation, error) {

	f.appendCalls++
	if f.failAppend {
		return nil, ErrConflict
	}
	if f.conv == nil || f.conv.ID != id {
		return nil, ErrNotFound
	}
	if len(f.conv.History) != expectedHistoryLen {
		return nil, ErrConflict
	}
	f.conv.History = append(f.conv.History, userMsg, assistantMsg)
	f.conv.SubtaskCompleted = subtaskCompleted
	f.conv.Warning = warning
	copied := *f.conv
	return &copied, nil
}

func newTestConversation() *models.Conversation {
	return &models.Conversation{
		ID:        primitive.NewObjectID(),
		SessionID: primitive.NewObjectID(),
		GroupID:   primitive.NewObjectID(),
		StudentID: "student-1",
		Task:      "討論城市交通的未來",
		Subtasks:  []string{"提出一個問題", "提出一個解決方案", "評估可行性"},
		History: []models.ConversationMessage{
			{ID: "m1", Role: models.RoleUser, Content: "我覺得塞車很嚴重"},
			{ID: "m2", Role: models.RoleAssistant, Content: "你覺得主要原因是什麼？"},
		},
		SubtaskCompleted: []bool{true, false, false},
	}
}

func newTestTurnService(store *fakeStore, caller *fakeCaller) *TurnService {
	registry, err := prompts.NewRegistry("")
	if err != nil {
		panic(err)
	}
	language := NewLanguageService(caller, registry)
	return NewTurnService(store, caller, registry, language, newTestMetrics(), 0.7, 1.0)
}

func defaultCaller() *fakeCaller {
	return &fakeCaller{
		tutor: tutorOutput{
			Affirmation: "說得好",
			Elaboration: "大眾運輸確實是關鍵",
			Question:    "你覺得票價應該怎麼定?",
		},
		completed: []bool{true, false, false},
	}
}

func TestMergeCompleted(t *testing.T) {
	tests := []struct {
		name  string
		prev  []bool
		fresh []bool
		want  []bool
	}{
		{"new completion sets", []bool{false, false}, []bool{true, false}, []bool{true, false}},
		{"never unsets", []bool{true, true}, []bool{false, false}, []bool{true, true}},
		{"or of both", []bool{true, false, false}, []bool{false, true, false}, []bool{true, true, false}},
		{"short fresh keeps shape", []bool{false, true, false}, []bool{true}, []bool{true, true, false}},
		{"long fresh cannot grow", []bool{false, false}, []bool{true, true, true, true}, []bool{true, true}},
		{"empty prev", []bool{}, []bool{true}, []bool{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeCompleted(tt.prev, tt.fresh)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeCompleted(%v, %v) = %v, want %v", tt.prev, tt.fresh, got, tt.want)
			}
			if len(got) != len(tt.prev) {
				t.Errorf("merge changed length: got %d, want %d", len(got), len(tt.prev))
			}
		})
	}
}

func TestNextOffTopicStreak(t *testing.T) {
	tests := []struct {
		prev     int
		offTopic bool
		want     int
	}{
		{0, false, 0},
		{0, true, 1},
		{3, true, 4},
		{5, false, 0},
	}

	for _, tt := range tests {
		if got := NextOffTopicStreak(tt.prev, tt.offTopic); got != tt.want {
			t.Errorf("NextOffTopicStreak(%d, %v) = %d, want %d", tt.prev, tt.offTopic, got, tt.want)
		}
	}
}

func TestAssembleReply(t *testing.T) {
	got := AssembleReply("很好,繼續", "", "下一步呢?")
	want := "很好，繼續\n\n下一步呢？"
	if got != want {
		t.Errorf("AssembleReply = %q, want %q", got, want)
	}

	if got := AssembleReply("", "", ""); got != "" {
		t.Errorf("AssembleReply of empties = %q, want empty", got)
	}
}

func TestChatAppendsExactlyTwoMessages(t *testing.T) {
	store := &fakeStore{conv: newTestConversation()}
	svc := newTestTurnService(store, defaultCaller())

	before := len(store.conv.History)
	resp, err := svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: "我想到一個方案"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if got := len(store.conv.History); got != before+2 {
		t.Fatalf("history grew by %d, want 2", got-before)
	}
	userMsg := store.conv.History[before]
	assistantMsg := store.conv.History[before+1]
	if userMsg.Role != models.RoleUser || assistantMsg.Role != models.RoleAssistant {
		t.Errorf("wrong roles: %s then %s", userMsg.Role, assistantMsg.Role)
	}
	if userMsg.Warnings == nil {
		t.Error("user message missing per-message warnings")
	}
	if assistantMsg.Warnings != nil {
		t.Error("assistant message must not carry warnings")
	}
	if resp.Response != assistantMsg.Content {
		t.Errorf("response %q does not match persisted assistant content %q", resp.Response, assistantMsg.Content)
	}
}

func TestChatRejectsOverlongMessage(t *testing.T) {
	store := &fakeStore{conv: newTestConversation()}
	svc := newTestTurnService(store, defaultCaller())

	long := strings.Repeat("啊", models.MaxChatMessageLength+1)
	_, err := svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: long})
	if !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("got %v, want ErrMessageTooLong", err)
	}
	if store.getCalls != 0 || store.appendCalls != 0 {
		t.Errorf("store touched before validation: gets=%d appends=%d", store.getCalls, store.appendCalls)
	}
}

func TestChatMaxLengthMessageAccepted(t *testing.T) {
	store := &fakeStore{conv: newTestConversation()}
	svc := newTestTurnService(store, defaultCaller())

	exact := strings.Repeat("好", models.MaxChatMessageLength)
	if _, err := svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: exact}); err != nil {
		t.Fatalf("exactly-max message rejected: %v", err)
	}
}

func TestChatBranchFailureWritesNothing(t *testing.T) {
	for _, schema := range []string{"tutor_turn", "subtask_check", "moderation_check", "offtopic_check", "language_check"} {
		t.Run(schema, func(t *testing.T) {
			caller := defaultCaller()
			caller.failSchema = schema
			store := &fakeStore{conv: newTestConversation()}
			svc := newTestTurnService(store, caller)

			before := len(store.conv.History)
			_, err := svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: "測試"})
			if !errors.Is(err, ErrTurnFailed) {
				t.Fatalf("got %v, want ErrTurnFailed", err)
			}
			if store.appendCalls != 0 {
				t.Error("append attempted after branch failure")
			}
			if len(store.conv.History) != before {
				t.Error("history mutated after branch failure")
			}
		})
	}
}

func TestChatSubtaskMergeIsMonotonic(t *testing.T) {
	caller := defaultCaller()
	caller.completed = []bool{false, true, false}
	store := &fakeStore{conv: newTestConversation()}
	store.conv.SubtaskCompleted = []bool{true, false, false}
	svc := newTestTurnService(store, caller)

	resp, err := svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: "我的方案是擴建捷運"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	want := []bool{true, true, false}
	if !reflect.DeepEqual(resp.SubtaskCompleted, want) {
		t.Errorf("merged completion %v, want %v", resp.SubtaskCompleted, want)
	}
	if len(store.conv.SubtaskCompleted) != len(store.conv.Subtasks) {
		t.Errorf("completion length %d diverged from subtasks %d", len(store.conv.SubtaskCompleted), len(store.conv.Subtasks))
	}
}

func TestChatModerationFlagIsSticky(t *testing.T) {
	caller := defaultCaller()
	caller.harmful = false
	store := &fakeStore{conv: newTestConversation()}
	store.conv.Warning.Moderation = true
	svc := newTestTurnService(store, caller)

	resp, err := svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: "繼續討論"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !resp.Moderation {
		t.Error("sticky moderation flag was cleared by a clean turn")
	}
}

func TestChatOffTopicStreak(t *testing.T) {
	// An off-topic turn extends the streak.
	caller := defaultCaller()
	caller.offTopic = true
	store := &fakeStore{conv: newTestConversation()}
	store.conv.Warning.OffTopicStreak = 2
	svc := newTestTurnService(store, caller)

	resp, err := svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: "我昨天整天睡覺"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.OffTopicStreak != 3 {
		t.Errorf("streak = %d, want 3", resp.OffTopicStreak)
	}
	userMsg := store.conv.History[len(store.conv.History)-2]
	if userMsg.Warnings == nil || !userMsg.Warnings.OffTopic {
		t.Error("off-topic turn not marked on the user message")
	}

	// The next on-topic turn resets it to zero, not to streak-1.
	caller.offTopic = false
	resp, err = svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: "回到主題,我支持公車專用道"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.OffTopicStreak != 0 {
		t.Errorf("streak after on-topic turn = %d, want 0", resp.OffTopicStreak)
	}
}

func TestChatFirstMessage(t *testing.T) {
	caller := defaultCaller()
	caller.completed = []bool{false, false, false}
	store := &fakeStore{conv: newTestConversation()}
	store.conv.History = nil
	store.conv.SubtaskCompleted = []bool{false, false, false}
	svc := newTestTurnService(store, caller)

	resp, err := svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: "整天睡覺"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(store.conv.History) != 2 {
		t.Fatalf("history length %d, want 2", len(store.conv.History))
	}
	if resp.Moderation {
		t.Error("first message flagged as harmful")
	}
	if resp.OffTopicStreak != 0 {
		t.Errorf("off-topic streak = %d, want 0", resp.OffTopicStreak)
	}
	if !reflect.DeepEqual(resp.SubtaskCompleted, []bool{false, false, false}) {
		t.Errorf("completion vector changed: %v", resp.SubtaskCompleted)
	}
	if got := strings.Count(resp.Response, "\n\n"); got != 2 {
		t.Errorf("reply has %d blank-line joins, want 2: %q", got, resp.Response)
	}
}

func TestChatCleanupSubstitutesRevisedText(t *testing.T) {
	caller := defaultCaller()
	caller.cleanup = languageCheckOutput{
		ContainsForeignLanguage: true,
		RevisedText:             "說得好\n\n大眾運輸確實是關鍵\n\n你覺得票價應該怎麼定？",
	}
	store := &fakeStore{conv: newTestConversation()}
	svc := newTestTurnService(store, caller)

	resp, err := svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: "測試"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Response != caller.cleanup.RevisedText {
		t.Errorf("response %q, want revised text", resp.Response)
	}
}

func TestChatForbiddenForOtherStudent(t *testing.T) {
	store := &fakeStore{conv: newTestConversation()}
	svc := newTestTurnService(store, defaultCaller())

	_, err := svc.Chat(context.Background(), "someone-else", store.conv.ID.Hex(), &models.ChatRequest{Message: "hi"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}
	if store.appendCalls != 0 {
		t.Error("append attempted for foreign student")
	}
}

func TestChatLostRaceSurfacesConflict(t *testing.T) {
	store := &fakeStore{conv: newTestConversation(), failAppend: true}
	svc := newTestTurnService(store, defaultCaller())

	_, err := svc.Chat(context.Background(), "student-1", store.conv.ID.Hex(), &models.ChatRequest{Message: "測試"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestLastAssistantMessage(t *testing.T) {
	history := []models.ConversationMessage{
		{Role: models.RoleUser, Content: "a"},
		{Role: models.RoleAssistant, Content: "b"},
		{Role: models.RoleUser, Content: "c"},
	}
	if got := lastAssistantMessage(history); got != "b" {
		t.Errorf("lastAssistantMessage = %q, want %q", got, "b")
	}
	if got := lastAssistantMessage(nil); got != "" {
		t.Errorf("lastAssistantMessage(nil) = %q, want empty", got)
	}
}
