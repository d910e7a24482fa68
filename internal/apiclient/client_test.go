package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidegen/internal/models"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, status int, response any) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestClient_SubmitBatch(t *testing.T) {
	srv, rec := newServer(t, http.StatusAccepted, models.BatchSubmission{
		Tasks:       map[string]string{"s1": "t1"},
		TotalSlides: 1,
	})
	c := New(srv.URL+"/", "tok", nil)

	sub, err := c.SubmitBatch(context.Background(), "deck-1", nil)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/v1/presentations/deck-1/generate-images", rec.path)
	assert.Equal(t, "Bearer tok", rec.auth)
	assert.Equal(t, []any{}, rec.body["slide_ids"])
	assert.Equal(t, "t1", sub.Tasks["s1"])
	assert.True(t, c.HasTokens())
}

func TestClient_UpdateSlideSendsPatch(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, models.Slide{ID: "s1", ImageURL: "/media/x.png"})
	c := New(srv.URL, "", nil)

	slide, err := c.UpdateSlide(context.Background(), "deck-1", "s1", models.SlidePatch{ImageURL: models.String("/media/x.png")})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, rec.method)
	assert.Equal(t, "/api/v1/presentations/deck-1/slides/s1", rec.path)
	assert.Empty(t, rec.auth)
	assert.Equal(t, map[string]any{"imageUrl": "/media/x.png"}, rec.body)
	assert.Equal(t, "/media/x.png", slide.ImageURL)
	assert.False(t, c.HasTokens())
}

func TestClient_Paths(t *testing.T) {
	tests := []struct {
		name string
		call func(*Client) error
		want string
	}{
		{"status", func(c *Client) error { _, err := c.BatchStatus(context.Background(), "d"); return err }, "GET /api/v1/presentations/d/image-status"},
		{"regenerate", func(c *Client) error { _, err := c.RegenerateSlide(context.Background(), "d", "s", ""); return err }, "POST /api/v1/presentations/d/slides/s/regenerate-image"},
		{"generate", func(c *Client) error { _, err := c.GenerateSlide(context.Background(), "d", "s"); return err }, "POST /api/v1/presentations/d/slides/s/generate-image"},
		{"task", func(c *Client) error { _, err := c.Task(context.Background(), "t1"); return err }, "GET /api/v1/presentations/tasks/t1"},
		{"get", func(c *Client) error { _, err := c.GetPresentation(context.Background(), "d"); return err }, "GET /api/v1/presentations/d"},
		{"create", func(c *Client) error {
			_, err := c.CreatePresentation(context.Background(), &models.Deck{Topic: "x"})
			return err
		}, "POST /api/v1/presentations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newServer(t, http.StatusOK, map[string]any{})
			require.NoError(t, tt.call(New(srv.URL, "", nil)))
			assert.Equal(t, tt.want, rec.method+" "+rec.path)
		})
	}
}

func TestClient_APIError(t *testing.T) {
	srv, _ := newServer(t, http.StatusNotFound, map[string]string{"detail": "Presentation not found", "error_code": "NOT_FOUND"})
	c := New(srv.URL, "", nil)

	_, err := c.GetPresentation(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Presentation not found", apiErr.Detail)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}

func TestClient_APIErrorMessageFallback(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnprocessableEntity, map[string]string{"message": "No slides to process"})
	c := New(srv.URL, "", nil)

	_, err := c.SubmitBatch(context.Background(), "d", []string{"s1"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "No slides to process", apiErr.Detail)
	assert.False(t, IsNotFound(err))
}
