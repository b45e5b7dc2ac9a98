// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FlexString Tests
// =============================================================================

func TestFlexString_Unmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want FlexString
	}{
		{"number", `7`, "7"},
		{"string", `"abc"`, "abc"},
		{"null", `null`, ""},
		{"large number", `12345678901`, "12345678901"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexString
			require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
			assert.Equal(t, tt.want, f)
		})
	}
}

func TestFlexString_UnmarshalRejectsObjects(t *testing.T) {
	var f FlexString
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &f))
}

func TestFlexString_MarshalDigitsAsNumber(t *testing.T) {
	data, err := json.Marshal(StreamRequest{SessionID: "12", Message: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":12,"message":"hi"}`, string(data))

	data, err = json.Marshal(StreamRequest{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"s1","message":"hi"}`, string(data))
}

func TestFlexString_MarshalNonCanonicalDigitsAsString(t *testing.T) {
	tests := []struct {
		name string
		in   FlexString
		want string
	}{
		{"leading zero", "007", `"007"`},
		{"zero", "0", `0`},
		{"beyond int64", "99999999999999999999", `"99999999999999999999"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}

	data, err := json.Marshal(StreamRequest{SessionID: "007", Message: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"007","message":"hi"}`, string(data))
}

// =============================================================================
// Session Mapping Tests
// =============================================================================

func TestToSession_MapsSnakeCaseFields(t *testing.T) {
	raw := `{
		"id": 3,
		"title": "Reformation Discussion",
		"era": 4,
		"era_name": "Reformation",
		"created_at": "2025-01-02T03:04:05Z",
		"updated_at": "2025-01-02T04:04:05.123456Z",
		"is_archived": false,
		"message_count": 6
	}`

	var w SessionWire
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	s := ToSession(w)

	assert.Equal(t, "3", s.ID)
	assert.Equal(t, "Reformation Discussion", s.Title)
	require.NotNil(t, s.EraID)
	assert.Equal(t, "4", *s.EraID)
	assert.True(t, s.HasEra())
	assert.Equal(t, "Reformation", s.EraName)
	assert.Equal(t, 6, s.MessageCount)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), s.CreatedAt)
	assert.False(t, s.UpdatedAt.IsZero())
}

func TestToSession_NullEra(t *testing.T) {
	var w SessionWire
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","title":"Old","era":null}`), &w))

	s := ToSession(w)

	assert.Nil(t, s.EraID)
	assert.False(t, s.HasEra())
	assert.True(t, s.CreatedAt.IsZero())
}

func TestRemoveSession_DoesNotMutateInput(t *testing.T) {
	in := []Session{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	out := RemoveSession(in, "b")

	assert.Equal(t, []Session{{ID: "a"}, {ID: "c"}}, out)
	assert.Len(t, in, 3)
	assert.Equal(t, "b", in[1].ID)
}

// =============================================================================
// Message Mapping Tests
// =============================================================================

func TestToMessage_CitationSourceFallback(t *testing.T) {
	raw := `{
		"id": 10,
		"role": "assistant",
		"content": "Luther posted the theses.",
		"created_at": "2025-01-02T03:04:05Z",
		"citations": [
			{"title": "A", "url": "https://a", "source_name": "Wiki"},
			{"title": "B", "url": "", "source": "Lecture"},
			{"title": "C"}
		]
	}`

	var w MessageWire
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	m := ToMessage(w)

	assert.Equal(t, CommittedID("10"), m.ID)
	assert.False(t, m.ID.IsPending())
	assert.Equal(t, RoleAssistant, m.Role)
	assert.Equal(t, []Citation{
		{Title: "A", URL: "https://a", Source: "Wiki"},
		{Title: "B", URL: "", Source: "Lecture"},
		{Title: "C", URL: "", Source: ""},
	}, m.Sources)
}

func TestToMessage_EmptyCitationsAreNil(t *testing.T) {
	var w MessageWire
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"role":"assistant","content":"x","citations":[]}`), &w))

	assert.Nil(t, ToMessage(w).Sources)
}

func TestToMessage_UserMessagesNeverCarryCitations(t *testing.T) {
	w := MessageWire{
		ID:        "2",
		Role:      "user",
		Content:   "hi",
		Citations: []CitationWire{{Title: "stray"}},
	}

	assert.Nil(t, ToMessage(w).Sources)
}

func TestToMessages_PreservesOrder(t *testing.T) {
	ws := []MessageWire{
		{ID: "1", Role: "user", Content: "q"},
		{ID: "2", Role: "assistant", Content: "a"},
	}

	ms := ToMessages(ws)

	require.Len(t, ms, 2)
	assert.Equal(t, "q", ms[0].Content)
	assert.Equal(t, "a", ms[1].Content)
}

// =============================================================================
// StreamRequest Validation Tests
// =============================================================================

func TestStreamRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     StreamRequest
		wantErr bool
	}{
		{"valid", StreamRequest{SessionID: "1", Message: "Who was Athanasius?"}, false},
		{"missing session", StreamRequest{Message: "hi"}, true},
		{"blank message", StreamRequest{SessionID: "1", Message: "   "}, true},
		{"too long", StreamRequest{SessionID: "1", Message: strings.Repeat("a", MaxStreamMessageChars+1)}, true},
		{"at limit", StreamRequest{SessionID: "1", Message: strings.Repeat("a", MaxStreamMessageChars)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToUser(t *testing.T) {
	u := ToUser(UserWire{ID: "5", Email: "a@b.c", DisplayName: "Ann", DateJoined: "2024-05-01T00:00:00Z"})

	assert.Equal(t, "5", u.ID)
	assert.Equal(t, "Ann", u.DisplayName)
	assert.Equal(t, 2024, u.CreatedAt.Year())
}
