package note

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commentBody = `{
  "code": 0,
  "success": true,
  "data": {
    "cursor": "c-2",
    "has_more": true,
    "comments": [
      {
        "id": "c-1",
        "note_id": "64f0a1",
        "content": "great view",
        "create_time": 1700000000000,
        "like_count": "12",
        "sub_comment_count": "2",
        "user_info": {"user_id": "u-1", "nickname": "alice", "image": "https://img/a.jpg"},
        "sub_comments": [
          {
            "id": "c-1-1",
            "note_id": "64f0a1",
            "content": "agreed",
            "create_time": 1700000001000,
            "like_count": "1",
            "sub_comment_count": "5",
            "user_info": {"user_id": "u-2", "nickname": "bob"}
          },
          {"id": "", "content": "dropped"}
        ]
      },
      {
        "id": "c-2",
        "content": "where is this?",
        "create_time": "yesterday",
        "like_count": "1.2万",
        "user_info": {"user_id": "u-3", "nickname": "carol"}
      }
    ]
  }
}`

func TestParseCommentResponse(t *testing.T) {
	page, err := ParseCommentResponse([]byte(commentBody))
	require.NoError(t, err)

	assert.Equal(t, "64f0a1", page.NoteID)
	assert.Equal(t, "c-2", page.Cursor)
	assert.True(t, page.HasMore)
	require.Len(t, page.Comments, 3)

	assert.Equal(t, Comment{
		CommentID:       "c-1",
		Content:         "great view",
		UserID:          "u-1",
		UserName:        "alice",
		UserAvatar:      "https://img/a.jpg",
		CreateTime:      "1700000000000",
		LikeCount:       12,
		SubCommentCount: 2,
	}, page.Comments[0])

	sub := page.Comments[1]
	assert.Equal(t, "c-1-1", sub.CommentID)
	assert.Equal(t, "bob", sub.UserName)
	assert.Equal(t, 1, sub.LikeCount)
	assert.Zero(t, sub.SubCommentCount)

	last := page.Comments[2]
	assert.Equal(t, "c-2", last.CommentID)
	assert.Equal(t, "yesterday", last.CreateTime)
	assert.Zero(t, last.LikeCount)
}

func TestParseCommentResponse_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"api error", `{"code": 300012, "success": false, "msg": "rate limited"}`},
		{"bad create_time", `{"code": 0, "data": {"comments": [{"id": "c", "create_time": true}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommentResponse([]byte(tt.body))
			require.Error(t, err)
		})
	}
}

func TestParseCommentResponse_Empty(t *testing.T) {
	page, err := ParseCommentResponse([]byte(`{"code": 0, "success": true, "data": {}}`))
	require.NoError(t, err)
	assert.Empty(t, page.Comments)
	assert.NotNil(t, page.Comments)
	assert.False(t, page.HasMore)
}

func TestWithComments(t *testing.T) {
	orig := Note{NoteID: "n", Comments: []Comment{{CommentID: "a"}}}

	tests := []struct {
		name string
		add  []Comment
		want []string
	}{
		{"append", []Comment{{CommentID: "b"}}, []string{"a", "b"}},
		{"dedupe", []Comment{{CommentID: "a"}, {CommentID: "b"}, {CommentID: "b"}}, []string{"a", "b"}},
		{"nothing", nil, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := orig.WithComments(tt.add)
			ids := make([]string, 0, len(merged.Comments))
			for _, c := range merged.Comments {
				ids = append(ids, c.CommentID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, []Comment{{CommentID: "a"}}, orig.Comments)
		})
	}
}
