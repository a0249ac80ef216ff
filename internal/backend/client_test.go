package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

func TestClientPostsJSONWithHeaders(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotBody SubmitAnswerRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(SubmitAnswerResponse{
			Result:            domain.ResultCorrect,
			CorrectOptionID:   "q03-a",
			JokerRemaining:    1,
			NextQuestionIndex: 4,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL + "/")
	client.SetHeader("Authorization", "Bearer tok")

	selected := "q03-a"
	resp, err := client.SubmitAnswer(context.Background(), SubmitAnswerRequest{
		QuestionIndex:    3,
		SelectedAnswerID: &selected,
		AnsweredAtMs:     1234,
		UsedJoker:        true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/api/answer/submit" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header not forwarded, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type %s", gotContentType)
	}
	if gotBody.QuestionIndex != 3 || gotBody.SelectedAnswerID == nil || *gotBody.SelectedAnswerID != "q03-a" || !gotBody.UsedJoker {
		t.Fatalf("request body mangled: %+v", gotBody)
	}
	if resp.Result != domain.ResultCorrect || resp.NextQuestionIndex != 4 {
		t.Fatalf("response mangled: %+v", resp)
	}
}

func TestClientTimeoutSubmissionSendsNullSelection(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(SubmitAnswerResponse{Result: domain.ResultTimeout})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if _, err := client.SubmitAnswer(context.Background(), SubmitAnswerRequest{QuestionIndex: 0}); err != nil {
		t.Fatal(err)
	}
	if string(raw["selected_answer_id"]) != "null" {
		t.Fatalf("expected explicit null selection, got %s", raw["selected_answer_id"])
	}
}

func TestClientMapsJokerLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "LIMIT_REACHED"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.UseJoker(context.Background(), UseJokerRequest{QuestionIndex: 2})
	if !errors.Is(err, domain.ErrJokerLimit) {
		t.Fatalf("expected ErrJokerLimit, got %v", err)
	}
}

func TestClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.StartRun(context.Background(), StartRunRequest{})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if errors.Is(err, domain.ErrJokerLimit) {
		t.Fatal("generic failure must not map to ErrJokerLimit")
	}
}

func TestClientRunEndpointPaths(t *testing.T) {
	paths := make([]string, 0, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()
	if _, err := client.StartRun(ctx, StartRunRequest{ForceNew: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.FinishRun(ctx); err != nil {
		t.Fatal(err)
	}
	if err := client.RestartRun(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{"/api/run/start", "/api/run/finish", "/api/run/restart"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d requests, got %v", len(want), paths)
	}
	for i, p := range want {
		if paths[i] != p {
			t.Fatalf("request %d hit %s, want %s", i, paths[i], p)
		}
	}
}
