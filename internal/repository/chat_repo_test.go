package repository

import (
	"testing"
	"time"

	"github.com/dgeneration/radiance-ai/backend/internal/model"
)

func TestChatRepositoryOrdering(t *testing.T) {
	repo := NewChatRepository(openTestDB(t))

	base := time.Now()
	contents := []string{"q1", "a1", "q2", "a2", "q3"}
	for i, c := range contents {
		role := model.ChatRoleUser
		if i%2 == 1 {
			role = model.ChatRoleAssistant
		}
		msg := &model.ChatMessage{SessionID: "s1", Role: role, Content: c, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.Append(msg); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}
	if err := repo.Append(&model.ChatMessage{SessionID: "s2", Role: model.ChatRoleUser, Content: "other"}); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	all, err := repo.ListBySession("s1")
	if err != nil {
		t.Fatalf("ListBySession error: %v", err)
	}
	if len(all) != len(contents) {
		t.Fatalf("expected %d messages, got %d", len(contents), len(all))
	}
	for i, m := range all {
		if m.Content != contents[i] {
			t.Fatalf("unexpected order at %d: %s", i, m.Content)
		}
	}

	recent, err := repo.Recent("s1", 2)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "a2" || recent[1].Content != "q3" {
		t.Fatalf("unexpected recent messages: %+v", recent)
	}
}

func TestStageRunRepository(t *testing.T) {
	repo := NewStageRunRepository(openTestDB(t))

	runs := []model.StageRun{
		{SessionID: "s1", Stage: 1, StageKey: "general_physician", Strategy: "direct", Succeeded: true},
		{SessionID: "s1", Stage: 2, StageKey: "specialist_doctor", ErrorMsg: "timeout"},
		{SessionID: "s2", Stage: 1},
	}
	for i := range runs {
		if err := repo.Create(&runs[i]); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	got, err := repo.ListBySession("s1")
	if err != nil {
		t.Fatalf("ListBySession error: %v", err)
	}
	if len(got) != 2 || got[0].Stage != 1 || got[1].ErrorMsg != "timeout" {
		t.Fatalf("unexpected runs: %+v", got)
	}

	if err := repo.DeleteBySession("s1"); err != nil {
		t.Fatalf("DeleteBySession error: %v", err)
	}
	got, _ = repo.ListBySession("s1")
	if len(got) != 0 {
		t.Fatalf("expected no runs, got %d", len(got))
	}
}
