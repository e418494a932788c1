package forum

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type listingPayload struct {
	TopicList struct {
		Topics        []TopicStub `json:"topics"`
		MoreTopicsURL string      `json:"more_topics_url"`
	} `json:"topic_list"`
}

// ParseListing decodes a listing page body.
func ParseListing(body []byte) (Listing, error) {
	var payload listingPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Listing{}, fmt.Errorf("%w: listing: %w", ErrInvalidBody, err)
	}
	return Listing{
		Topics:        payload.TopicList.Topics,
		MoreTopicsURL: payload.TopicList.MoreTopicsURL,
	}, nil
}

// NextPageNumber extracts the page=<N> parameter from a more_topics_url value.
// It reports false when the URL or the parameter is missing or not a number.
func NextPageNumber(moreTopicsURL string) (string, bool) {
	if moreTopicsURL == "" {
		return "", false
	}
	query := moreTopicsURL
	if i := strings.Index(query, "?"); i >= 0 {
		query = query[i+1:]
	}
	// ParseQuery keeps every well-formed pair even when it reports an error.
	values, _ := url.ParseQuery(query)
	page := values.Get("page")
	if page == "" {
		return "", false
	}
	if _, err := strconv.Atoi(page); err != nil {
		return "", false
	}
	return page, true
}
