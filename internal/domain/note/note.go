package note

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MediaImage = "image"
	MediaVideo = "video"

	SourceAPI = "api"
	SourceDOM = "dom"

	noteURLPrefix = "https://www.xiaohongshu.com/explore/"
)

var (
	ErrNotFound      = errors.New("note not found")
	ErrEmptyResponse = errors.New("response contains no notes")
)

// MediaInfo is one image or video attached to a note.
type MediaInfo struct {
	URL       string `json:"url"`
	MediaType string `json:"mediaType"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Interaction holds engagement counters.
type Interaction struct {
	LikeCount    int `json:"likeCount"`
	CommentCount int `json:"commentCount"`
	CollectCount int `json:"collectCount"`
	ShareCount   int `json:"shareCount"`
}

// Note is a captured note record.
type Note struct {
	NoteID      string      `json:"noteId"`
	Title       string      `json:"title"`
	Content     string      `json:"content"`
	MediaList   []MediaInfo `json:"mediaList"`
	Interaction Interaction `json:"interaction"`
	AuthorName  string      `json:"authorName"`
	AuthorID    string      `json:"authorId"`
	PublishTime *string     `json:"publishTime,omitempty"`
	NoteURL     string      `json:"noteUrl"`
	CaptureTime time.Time   `json:"captureTime"`
	SourceType  string      `json:"sourceType"`
	Comments    []Comment   `json:"comments,omitempty"`
}

// URLFor builds the public explore URL of a note.
func URLFor(noteID string) string {
	return noteURLPrefix + noteID
}

// PrimaryImageURL returns the first image, or "" if there is none.
func (n *Note) PrimaryImageURL() string {
	for _, m := range n.MediaList {
		if m.MediaType == MediaImage {
			return m.URL
		}
	}
	return ""
}

func (n *Note) HasVideo() bool {
	for _, m := range n.MediaList {
		if m.MediaType == MediaVideo {
			return true
		}
	}
	return false
}

func (n *Note) MediaCount() int {
	return len(n.MediaList)
}

// Fields flattens the note for expression evaluation. Numbers are float64.
func (n *Note) Fields() map[string]interface{} {
	return map[string]interface{}{
		"note_id":       n.NoteID,
		"title":         n.Title,
		"content":       n.Content,
		"author_id":     n.AuthorID,
		"author_name":   n.AuthorName,
		"source_type":   n.SourceType,
		"like_count":    float64(n.Interaction.LikeCount),
		"comment_count": float64(n.Interaction.CommentCount),
		"collect_count": float64(n.Interaction.CollectCount),
		"share_count":   float64(n.Interaction.ShareCount),
		"media_count":   float64(n.MediaCount()),
		"has_video":     n.HasVideo(),
	}
}

// count decodes a counter sent either as a number or as a string.
// Values that are not plain integers, such as "1.2万", decode to 0.
type count int

func (c *count) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*c = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*c = 0
		return nil
	}
	*c = count(v)
	return nil
}

type apiImageInfo struct {
	ImageScene string `json:"image_scene"`
	URL        string `json:"url"`
}

type apiImage struct {
	URLDefault string         `json:"url_default"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	InfoList   []apiImageInfo `json:"info_list"`
}

type apiNoteCard struct {
	NoteID       string     `json:"note_id"`
	DisplayTitle string     `json:"display_title"`
	Title        string     `json:"title"`
	Desc         string     `json:"desc"`
	Type         string     `json:"type"`
	Cover        *apiImage  `json:"cover"`
	ImageList    []apiImage `json:"image_list"`
	InteractInfo struct {
		LikedCount     count `json:"liked_count"`
		CommentCount   count `json:"comment_count"`
		CollectedCount count `json:"collected_count"`
		SharedCount    count `json:"shared_count"`
	} `json:"interact_info"`
	User struct {
		Nickname string `json:"nickname"`
		UserID   string `json:"user_id"`
	} `json:"user"`
	CornerTagInfo []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"corner_tag_info"`
	Time  int64 `json:"time"`
	Video *struct {
		Media struct {
			Stream map[string][]struct {
				MasterURL string `json:"master_url"`
				Width     int    `json:"width"`
				Height    int    `json:"height"`
			} `json:"stream"`
		} `json:"media"`
	} `json:"video"`
}

type apiItem struct {
	ID        string      `json:"id"`
	ModelType string      `json:"model_type"`
	NoteCard  apiNoteCard `json:"note_card"`
}

type apiResponse struct {
	Code    int    `json:"code"`
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Data    struct {
		HasMore bool      `json:"has_more"`
		Items   []apiItem `json:"items"`
	} `json:"data"`
}

func decodeResponse(body []byte) (*apiResponse, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapDecode(err)
	}
	if resp.Code != 0 && !resp.Success {
		return nil, apiError(resp.Code, resp.Msg)
	}
	return &resp, nil
}

func wrapDecode(err error) error {
	return fmt.Errorf("failed to decode response: %w", err)
}

func apiError(code int, msg string) error {
	return fmt.Errorf("api error %d: %s", code, msg)
}

// ParseSearchResponse decodes a search API body into notes.
// Items without an id are skipped.
func ParseSearchResponse(body []byte) ([]Note, error) {
	resp, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	captured := time.Now().UTC()
	notes := make([]Note, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		id := item.ID
		if id == "" {
			id = item.NoteCard.NoteID
		}
		if id == "" {
			continue
		}
		notes = append(notes, fromCard(id, item.NoteCard, captured))
	}
	return notes, nil
}

// ParseDetailResponse decodes a feed/detail API body into the opened note.
func ParseDetailResponse(body []byte) (*Note, error) {
	resp, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	for _, item := range resp.Data.Items {
		id := item.NoteCard.NoteID
		if id == "" {
			id = item.ID
		}
		if id == "" {
			continue
		}
		n := fromCard(id, item.NoteCard, time.Now().UTC())
		return &n, nil
	}
	return nil, ErrEmptyResponse
}

func fromCard(id string, card apiNoteCard, captured time.Time) Note {
	n := Note{
		NoteID:  id,
		Title:   card.DisplayTitle,
		Content: card.Desc,
		Interaction: Interaction{
			LikeCount:    int(card.InteractInfo.LikedCount),
			CommentCount: int(card.InteractInfo.CommentCount),
			CollectCount: int(card.InteractInfo.CollectedCount),
			ShareCount:   int(card.InteractInfo.SharedCount),
		},
		AuthorName:  card.User.Nickname,
		AuthorID:    card.User.UserID,
		NoteURL:     URLFor(id),
		CaptureTime: captured,
		SourceType:  SourceAPI,
		MediaList:   []MediaInfo{},
	}
	if n.Title == "" {
		n.Title = card.Title
	}

	if card.Cover != nil && card.Cover.URLDefault != "" {
		n.MediaList = append(n.MediaList, MediaInfo{
			URL:       card.Cover.URLDefault,
			MediaType: MediaImage,
			Width:     card.Cover.Width,
			Height:    card.Cover.Height,
		})
	}
	for _, img := range card.ImageList {
		if url := imageURL(img); url != "" {
			n.MediaList = append(n.MediaList, MediaInfo{
				URL:       url,
				MediaType: MediaImage,
				Width:     img.Width,
				Height:    img.Height,
			})
		}
	}
	if card.Video != nil {
		for _, codec := range []string{"h264", "h265", "av1"} {
			streams := card.Video.Media.Stream[codec]
			if len(streams) > 0 && streams[0].MasterURL != "" {
				n.MediaList = append(n.MediaList, MediaInfo{
					URL:       streams[0].MasterURL,
					MediaType: MediaVideo,
					Width:     streams[0].Width,
					Height:    streams[0].Height,
				})
				break
			}
		}
	}

	for _, tag := range card.CornerTagInfo {
		if tag.Type == "publish_time" {
			text := tag.Text
			n.PublishTime = &text
			break
		}
	}
	if n.PublishTime == nil && card.Time > 0 {
		ts := time.UnixMilli(card.Time).UTC().Format(time.RFC3339)
		n.PublishTime = &ts
	}
	return n
}

// imageURL prefers the default-scene rendition and falls back to url_default.
func imageURL(img apiImage) string {
	for _, info := range img.InfoList {
		if info.ImageScene == "WB_DFT" && info.URL != "" {
			return info.URL
		}
	}
	return img.URLDefault
}
