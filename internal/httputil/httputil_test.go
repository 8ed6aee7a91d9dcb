package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"title":"x"}`},
		{name: "unknown fields accepted", body: `{"title":"x","extra":1}`},
		{name: "empty", body: ``, wantErr: "empty"},
		{name: "malformed", body: `{"title":`, wantErr: "invalid JSON"},
		{name: "trailing data", body: `{"title":"x"} {"title":"y"}`, wantErr: "trailing"},
		{name: "too large", body: `{"title":"` + strings.Repeat("a", MaxRequestBodyBytes) + `"}`, wantErr: "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dest struct {
				Title string `json:"title"`
			}
			err := ParseJSON(httptest.NewRecorder(), r, &dest)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "x", dest.Title)
		})
	}
}

func TestRespondErrorWithExtras(t *testing.T) {
	w := httptest.NewRecorder()
	RespondErrorWithExtras(w, http.StatusConflict, "busy", map[string]any{
		"conversation_id": "c1",
		"status":          "ignored",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "c1", body["conversation_id"])
	assert.Equal(t, float64(http.StatusConflict), body["status"])
	assert.Equal(t, "busy", body["detail"])
	assert.Equal(t, "Conflict", body["title"])
}

func TestOptionalString(t *testing.T) {
	var body struct {
		Title OptionalString `json:"title"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{}`), &body))
	assert.False(t, body.Title.Present)

	require.NoError(t, json.Unmarshal([]byte(`{"title":null}`), &body))
	assert.True(t, body.Title.Present)
	assert.Nil(t, body.Title.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"title":"new"}`), &body))
	require.NotNil(t, body.Title.Value)
	assert.Equal(t, "new", *body.Title.Value)
}

func TestUserIDRoundTrip(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetUserID(r))
	assert.Equal(t, "u1", GetUserID(WithUserID(r, "u1")))
}
