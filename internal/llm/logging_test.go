package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/abhisek/gradeblend/internal/store"
)

// recordingRepo keeps appended LLM events in memory.
type recordingRepo struct {
	store.EventRepo
	events []store.LLMRequestEventData
	err    error
}

func (r *recordingRepo) AppendLLMRequest(ctx context.Context, data store.LLMRequestEventData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.events = append(r.events, data)
	return r.err
}

func TestLogging_RecordsSuccess(t *testing.T) {
	repo := &recordingRepo{}
	mock := NewMockProvider(MockResponse{
		Content: json.RawMessage(`{"score":9,"explanation":"matches"}`),
		Usage:   Usage{InputTokens: 40, OutputTokens: 12, TotalTokens: 52},
	})
	p := WithLogging(mock, "mock", repo, zaptest.NewLogger(t).Sugar())

	ctx := WithPurpose(context.Background(), "cloud-judge")
	_, err := p.Generate(ctx, Request{
		System:   "You grade API responses.",
		Messages: []Message{{Role: RoleUser, Content: "Student: {}"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(repo.events))
	}
	e := repo.events[0]
	if e.Provider != "mock" || e.Purpose != "cloud-judge" || !e.Success {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.InputTokens != 40 || e.OutputTokens != 12 {
		t.Fatalf("tokens = %d/%d, want 40/12", e.InputTokens, e.OutputTokens)
	}
	if !strings.Contains(e.RequestBody, "[system]") || !strings.Contains(e.RequestBody, "Student: {}") {
		t.Fatalf("request body not captured: %q", e.RequestBody)
	}
	if e.ResponseBody != `{"score":9,"explanation":"matches"}` {
		t.Fatalf("response body = %q", e.ResponseBody)
	}
}

func TestLogging_RecordsFailure(t *testing.T) {
	repo := &recordingRepo{}
	mock := NewMockProvider(MockResponse{Err: &ErrRateLimit{Err: errors.New("slow down")}})
	p := WithLogging(mock, "mock", repo, zaptest.NewLogger(t).Sugar())

	_, err := p.Generate(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(repo.events) != 1 || repo.events[0].Success {
		t.Fatalf("expected one failed event, got %+v", repo.events)
	}
	if repo.events[0].Purpose != "unknown" {
		t.Fatalf("purpose = %q, want unknown", repo.events[0].Purpose)
	}
}

func TestLogging_RepoErrorDoesNotFailRequest(t *testing.T) {
	repo := &recordingRepo{err: errors.New("disk full")}
	mock := NewMockProvider(MockResponse{Content: json.RawMessage(`{}`)})
	p := WithLogging(mock, "mock", repo, zaptest.NewLogger(t).Sugar())

	if _, err := p.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("request failed because of event logging: %v", err)
	}
}

func TestLogging_NilRepo(t *testing.T) {
	mock := NewMockProvider(MockResponse{Content: json.RawMessage(`{}`)})
	p := WithLogging(mock, "mock", nil, nil)

	if _, err := p.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != "mock" {
		t.Fatalf("model = %q", p.ModelID())
	}
}

func TestLogging_RecordsAfterRequestDeadline(t *testing.T) {
	repo := &recordingRepo{}
	mock := NewMockProvider(MockResponse{Err: context.DeadlineExceeded})
	p := WithLogging(mock, "mock", repo, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Generate(ctx, Request{}); err == nil {
		t.Fatal("expected error")
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected the failed call to be recorded, got %d events", len(repo.events))
	}
}

func TestLogging_CapturesInvalidReplyBody(t *testing.T) {
	repo := &recordingRepo{}
	mock := NewMockProvider(MockResponse{Err: &ErrInvalidResponse{
		Content: json.RawMessage(`{"score":"high"}`),
		Err:     errors.New("schema validation failed"),
	}})
	p := WithLogging(mock, "mock", repo, zaptest.NewLogger(t).Sugar())

	if _, err := p.Generate(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if got := repo.events[0].ResponseBody; got != `{"score":"high"}` {
		t.Fatalf("response body = %q", got)
	}
}
