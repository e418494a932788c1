package forum

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidBody marks a response body that is not usable JSON for the expected schema.
	ErrInvalidBody = errors.New("invalid response body")
	// ErrMissingField marks a detail response that lacks a required key.
	ErrMissingField = errors.New("missing required field")
)

// MissingFieldError names the required key absent from a detail response.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// Is lets errors.Is match ErrMissingField.
func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

type fieldSpec struct {
	key      string
	nullable bool
}

// requiredFields must be present on every detail body. Nullable entries may carry JSON null.
var requiredFields = []fieldSpec{
	{key: "title"},
	{key: "created_at"},
	{key: "views"},
	{key: "reply_count"},
	{key: "like_count"},
	{key: "posts_count"},
	{key: "vote_count"},
	{key: "word_count", nullable: true},
	{key: "tags"},
	{key: "tags_descriptions"},
	{key: "last_posted_at", nullable: true},
	{key: "visible"},
	{key: "closed"},
	{key: "archived"},
	{key: "archetype"},
	{key: "slug"},
	{key: "user_id", nullable: true},
	{key: "current_post_number"},
	{key: "highest_post_number"},
	{key: "participant_count"},
}

type detailPayload struct {
	Title             string            `json:"title"`
	CreatedAt         string            `json:"created_at"`
	Views             int               `json:"views"`
	ReplyCount        int               `json:"reply_count"`
	LikeCount         int               `json:"like_count"`
	PostsCount        int               `json:"posts_count"`
	VoteCount         int               `json:"vote_count"`
	WordCount         *int              `json:"word_count"`
	TagsDescriptions  map[string]string `json:"tags_descriptions"`
	LastPostedAt      *string           `json:"last_posted_at"`
	Visible           bool              `json:"visible"`
	Closed            bool              `json:"closed"`
	Archived          bool              `json:"archived"`
	Archetype         string            `json:"archetype"`
	Slug              string            `json:"slug"`
	UserID            *int64            `json:"user_id"`
	CurrentPostNumber int               `json:"current_post_number"`
	HighestPostNumber int               `json:"highest_post_number"`
	ParticipantCount  int               `json:"participant_count"`
	DeletedAt         *string           `json:"deleted_at"`
	FeaturedLink      *string           `json:"featured_link"`
	ImageURL          *string           `json:"image_url"`
}

// MapTopicDetail validates a detail body and maps it into a TopicDetail for the given id.
func MapTopicDetail(id int64, body []byte) (TopicDetail, error) {
	if !gjson.ValidBytes(body) {
		return TopicDetail{}, fmt.Errorf("%w: topic %d is not valid JSON", ErrInvalidBody, id)
	}
	if !gjson.ParseBytes(body).IsObject() {
		return TopicDetail{}, fmt.Errorf("%w: topic %d is not a JSON object", ErrInvalidBody, id)
	}
	for _, f := range requiredFields {
		v := gjson.GetBytes(body, f.key)
		if !v.Exists() || (!f.nullable && v.Type == gjson.Null) {
			return TopicDetail{}, &MissingFieldError{Field: f.key}
		}
	}

	var payload detailPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return TopicDetail{}, fmt.Errorf("%w: topic %d: %w", ErrInvalidBody, id, err)
	}
	tags, err := mapTags(gjson.GetBytes(body, "tags"))
	if err != nil {
		return TopicDetail{}, fmt.Errorf("topic %d: %w", id, err)
	}
	posts, err := optionalRaw(gjson.GetBytes(body, "post_stream.posts"))
	if err != nil {
		return TopicDetail{}, fmt.Errorf("topic %d post_stream: %w", id, err)
	}
	thumbnails, err := optionalRaw(gjson.GetBytes(body, "thumbnails"))
	if err != nil {
		return TopicDetail{}, fmt.Errorf("topic %d thumbnails: %w", id, err)
	}

	return TopicDetail{
		ID:                id,
		PostComments:      posts,
		Tags:              tags,
		TagsDescriptions:  payload.TagsDescriptions,
		Title:             payload.Title,
		PostsCount:        payload.PostsCount,
		CreatedAt:         payload.CreatedAt,
		Views:             payload.Views,
		ReplyCount:        payload.ReplyCount,
		LikeCount:         payload.LikeCount,
		LastPostedAt:      payload.LastPostedAt,
		Visible:           payload.Visible,
		Closed:            payload.Closed,
		Archived:          payload.Archived,
		Archetype:         payload.Archetype,
		Slug:              payload.Slug,
		WordCount:         payload.WordCount,
		DeletedAt:         payload.DeletedAt,
		UserID:            payload.UserID,
		FeaturedLink:      payload.FeaturedLink,
		ImageURL:          payload.ImageURL,
		CurrentPostNumber: payload.CurrentPostNumber,
		HighestPostNumber: payload.HighestPostNumber,
		ParticipantCount:  payload.ParticipantCount,
		Thumbnails:        thumbnails,
		VoteCount:         payload.VoteCount,
	}, nil
}

// mapTags accepts both plain tag names and {"name": ...} tag objects.
func mapTags(r gjson.Result) ([]string, error) {
	if !r.IsArray() {
		return nil, fmt.Errorf("%w: tags is not an array", ErrInvalidBody)
	}
	tags := make([]string, 0, len(r.Array()))
	var bad error
	r.ForEach(func(_, v gjson.Result) bool {
		switch {
		case v.Type == gjson.String:
			tags = append(tags, v.String())
		case v.IsObject() && v.Get("name").Type == gjson.String:
			tags = append(tags, v.Get("name").String())
		default:
			bad = fmt.Errorf("%w: unsupported tag value %s", ErrInvalidBody, v.Raw)
			return false
		}
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return tags, nil
}

func optionalRaw(r gjson.Result) (RawJSON, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(r.Raw)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}
	return RawJSON(buf.Bytes()), nil
}
