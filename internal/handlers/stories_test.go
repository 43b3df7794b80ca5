package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jwebster45206/narrative-engine/pkg/conditionals"
	"github.com/jwebster45206/narrative-engine/pkg/storage"
	"github.com/jwebster45206/narrative-engine/pkg/story"
)

// forestStory: n1 has an open path to n2 and a lantern-gated path to n3.
func forestStory() *story.Story {
	return story.New("s1", "Forest", "n1",
		story.NewNode("n1", "Edge of forest",
			story.NewChoice("Go left", "n2"),
			story.NewConditionalChoice("Use the lantern", "n3", conditionals.FlagEquals("has_lantern", true)),
		),
		story.NewNode("n2", "Dark path"),
		story.NewNode("n3", "Light path").WithBackground("bg/light.png"),
	)
}

func newMockStorage() *storage.MockStorage {
	ms := storage.NewMockStorage()
	ms.AddStory("forest.json", forestStory())
	ms.AddStory("broken.json", story.New("broken", "Broken", "nowhere",
		story.NewNode("a", "x", story.NewChoice("go", "ghost"))))
	return ms
}

func TestStoryHandler_List(t *testing.T) {
	handler := NewStoryHandler(testLogger(), newMockStorage())

	req := httptest.NewRequest(http.MethodGet, "/v1/stories", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var stories map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&stories); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stories["Forest"] != "forest.json" {
		t.Errorf("Expected Forest to map to forest.json, got %v", stories)
	}
}

func TestStoryHandler_Get(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
		expectedIssues int
	}{
		{name: "valid story", method: http.MethodGet, path: "/v1/stories/forest.json", expectedStatus: http.StatusOK},
		{name: "story with issues", method: http.MethodGet, path: "/v1/stories/broken.json", expectedStatus: http.StatusOK, expectedIssues: 2},
		{name: "missing story", method: http.MethodGet, path: "/v1/stories/attic.json", expectedStatus: http.StatusNotFound},
		{name: "traversal", method: http.MethodGet, path: "/v1/stories/..%2Fsecret.json", expectedStatus: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodPost, path: "/v1/stories/forest.json", expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewStoryHandler(testLogger(), newMockStorage())

			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if rr.Code != http.StatusOK {
				return
			}

			var response StoryResponse
			if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if response.Story == nil {
				t.Fatal("Expected story in response")
			}
			if len(response.Issues) != tt.expectedIssues {
				t.Errorf("Expected %d issues, got %d: %v", tt.expectedIssues, len(response.Issues), response.Issues)
			}
		})
	}
}
