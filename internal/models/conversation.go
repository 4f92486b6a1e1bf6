package models

// Conversation summarises the messages a user exchanged with one counterpart.
type Conversation struct {
	OtherUserID string   `bson:"_id" json:"otherUserId"`
	LastMessage *Message `bson:"lastMessage" json:"lastMessage"`
	UnreadCount int64    `bson:"unreadCount" json:"unreadCount"`
}

// Page is one slice of a conversation or search result, oldest first.
type Page struct {
	Messages []*Message `json:"messages"`
	Page     int        `json:"page"`
	HasMore  bool       `json:"hasMore"`
	Total    int64      `json:"total"`
}
