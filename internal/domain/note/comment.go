package note

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Comment is one comment on a note. Replies are flattened next to their
// parent and carry SubCommentCount 0.
type Comment struct {
	CommentID       string `json:"commentId"`
	Content         string `json:"content"`
	UserID          string `json:"userId"`
	UserName        string `json:"userName"`
	UserAvatar      string `json:"userAvatar,omitempty"`
	CreateTime      string `json:"createTime"`
	LikeCount       int    `json:"likeCount"`
	SubCommentCount int    `json:"subCommentCount"`
}

// CommentPage is one decoded page of the comment API.
type CommentPage struct {
	NoteID   string    `json:"noteId,omitempty"`
	Comments []Comment `json:"comments"`
	Cursor   string    `json:"cursor,omitempty"`
	HasMore  bool      `json:"hasMore"`
}

// text decodes a JSON string or number into its string form.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(s)
		return nil
	}
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return err
	}
	*t = text(raw)
	return nil
}

type apiCommentUser struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Image    string `json:"image"`
}

type apiComment struct {
	ID              string         `json:"id"`
	NoteID          string         `json:"note_id"`
	Content         string         `json:"content"`
	UserInfo        apiCommentUser `json:"user_info"`
	CreateTime      text           `json:"create_time"`
	LikeCount       count          `json:"like_count"`
	SubCommentCount count          `json:"sub_comment_count"`
	SubComments     []apiComment   `json:"sub_comments"`
}

type apiCommentResponse struct {
	Code    int    `json:"code"`
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Data    struct {
		Cursor   text         `json:"cursor"`
		HasMore  bool         `json:"has_more"`
		Comments []apiComment `json:"comments"`
	} `json:"data"`
}

// ParseCommentResponse decodes a comment page. Each top-level comment is
// followed by its sub comments. Entries without an id are skipped.
func ParseCommentResponse(body []byte) (*CommentPage, error) {
	var resp apiCommentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapDecode(err)
	}
	if resp.Code != 0 && !resp.Success {
		return nil, apiError(resp.Code, resp.Msg)
	}

	page := &CommentPage{
		Cursor:   string(resp.Data.Cursor),
		HasMore:  resp.Data.HasMore,
		Comments: make([]Comment, 0, len(resp.Data.Comments)),
	}
	for _, item := range resp.Data.Comments {
		if page.NoteID == "" {
			page.NoteID = item.NoteID
		}
		if item.ID != "" {
			page.Comments = append(page.Comments, fromAPIComment(item, int(item.SubCommentCount)))
		}
		for _, sub := range item.SubComments {
			if sub.ID != "" {
				page.Comments = append(page.Comments, fromAPIComment(sub, 0))
			}
		}
	}
	return page, nil
}

func fromAPIComment(c apiComment, subCount int) Comment {
	return Comment{
		CommentID:       c.ID,
		Content:         c.Content,
		UserID:          c.UserInfo.UserID,
		UserName:        c.UserInfo.Nickname,
		UserAvatar:      c.UserInfo.Image,
		CreateTime:      string(c.CreateTime),
		LikeCount:       int(c.LikeCount),
		SubCommentCount: subCount,
	}
}

// WithComments returns a copy of n whose comment list is n's comments
// followed by those in cs not already present. n is left untouched.
func (n *Note) WithComments(cs []Comment) Note {
	out := *n
	merged := make([]Comment, 0, len(n.Comments)+len(cs))
	seen := make(map[string]struct{}, len(n.Comments)+len(cs))
	for _, list := range [][]Comment{n.Comments, cs} {
		for _, c := range list {
			if _, dup := seen[c.CommentID]; dup {
				continue
			}
			seen[c.CommentID] = struct{}{}
			merged = append(merged, c)
		}
	}
	out.Comments = merged
	return out
}
