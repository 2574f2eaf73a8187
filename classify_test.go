package harvester

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/reviewdeck/harvester/models"
)

func TestClassifyRoundTrip(t *testing.T) {
	var gotPath, gotMethod, gotContentType, gotModel string
	var gotItems []models.ClassifyItem

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")

		var req models.ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotModel = req.Model
		gotItems = req.Items

		json.NewEncoder(w).Encode(models.ClassifyResponse{
			Model: req.Model,
			Results: []models.Verdict{
				{IsRealReview: true, Confidence: 0.92},
				{IsRealReview: false, Confidence: 0.81},
			},
		})
	}))
	defer server.Close()

	client := newClassifierClient(server.URL, "test-model", 5*time.Second, 2)
	items := []models.ClassifyItem{
		{Text: "I bought it and the quality is great", Context: "store reviews for Aurora X1"},
		{Text: "Press release about the launch", Context: "store reviews for Aurora X1"},
	}

	verdicts, err := client.classify(context.Background(), items)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("Expected POST, got %s", gotMethod)
	}
	if gotPath != "/api/classify" {
		t.Errorf("Expected path /api/classify, got %s", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("Expected JSON content type, got %q", gotContentType)
	}
	if gotModel != "test-model" {
		t.Errorf("Expected model test-model, got %q", gotModel)
	}
	if len(gotItems) != 2 || gotItems[0].Context != "store reviews for Aurora X1" {
		t.Errorf("Expected items with context forwarded, got %+v", gotItems)
	}

	if len(verdicts) != 2 {
		t.Fatalf("Expected 2 verdicts, got %d", len(verdicts))
	}
	if !verdicts[0].IsRealReview || verdicts[0].Confidence != 0.92 {
		t.Errorf("Expected first verdict (true, 0.92), got %+v", verdicts[0])
	}
	if verdicts[1].IsRealReview {
		t.Errorf("Expected second verdict false, got %+v", verdicts[1])
	}
}

func TestClassifyCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.ClassifyResponse{
			Results: []models.Verdict{{IsRealReview: true, Confidence: 0.9}},
		})
	}))
	defer server.Close()

	client := newClassifierClient(server.URL, "m", 5*time.Second, 1)
	items := []models.ClassifyItem{{Text: "a"}, {Text: "b"}}

	_, err := client.classify(context.Background(), items)
	if err == nil {
		t.Fatal("Expected an error for a result count mismatch")
	}
	if !strings.Contains(err.Error(), "1 results for 2 items") {
		t.Errorf("Expected count mismatch in error, got %q", err.Error())
	}
}

func TestClassifyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newClassifierClient(server.URL, "m", 5*time.Second, 1)
	_, err := client.classify(context.Background(), []models.ClassifyItem{{Text: "a"}})
	if err == nil {
		t.Fatal("Expected an error for a 500 response")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Expected status in error, got %q", err.Error())
	}
}

func TestClassifyEmptyItems(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	client := newClassifierClient(server.URL, "m", 5*time.Second, 1)
	verdicts, err := client.classify(context.Background(), nil)
	if err != nil {
		t.Fatalf("Expected no error for empty input, got %v", err)
	}
	if verdicts != nil {
		t.Errorf("Expected nil verdicts for empty input, got %v", verdicts)
	}
	if requests != 0 {
		t.Errorf("Expected no HTTP request for empty input, got %d", requests)
	}
}

func TestNewClassifierClientConcurrencyFloor(t *testing.T) {
	client := newClassifierClient("http://localhost:9", "m", time.Second, 0)
	if cap(client.sem) != 1 {
		t.Errorf("Expected concurrency floor of 1, got %d", cap(client.sem))
	}
}
