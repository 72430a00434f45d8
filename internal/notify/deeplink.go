package notify

import (
	"net/url"
	"strings"
)

// Deep-link paths parsed by the presentation layer. Parameter names and
// encoding are part of the contract.
const (
	messagesPath  = "/messages"
	communityPath = "/community"
)

// MessagesLink builds the conversation deep link keyed by sender identity.
func MessagesLink(senderID string) string {
	values := url.Values{}
	values.Set("chatId", senderID)
	return messagesPath + "?" + values.Encode()
}

// CommunityLink builds the community deep link. Batch and subject names may
// contain spaces, so both values are query-escaped.
func CommunityLink(batchName, subjectName string) string {
	values := url.Values{}
	values.Set("batch", batchName)
	values.Set("subject", subjectName)
	return communityPath + "?" + values.Encode()
}

// MeetingLink normalizes an externally supplied meeting URL, defaulting the
// scheme to https. A value that fails to parse is returned unmodified rather
// than propagated as an error.
func MeetingLink(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return raw
	}
	if parsed.Scheme == "" {
		reparsed, err := url.Parse("https://" + trimmed)
		if err != nil {
			return raw
		}
		return reparsed.String()
	}
	return parsed.String()
}
