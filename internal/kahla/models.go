package kahla

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp decodes the server's ISO-8601 times with or without a zone
// designator; zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	raw, err := strconv.Unquote(strings.TrimSpace(string(b)))
	if err != nil || raw == "" {
		ts.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			ts.Time = t
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp %q", raw)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(ts.UTC().Format(time.RFC3339Nano))), nil
}

// Success is the protocol code every successful Kahla response carries.
const Success = 0

// Protocol is the common response header.
type Protocol struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p Protocol) protocol() Protocol { return p }

type IndexResponse struct {
	Protocol
	UTCTime    Timestamp `json:"utcTime"`
	APIVersion string    `json:"apiVersion"`
	WikiPath   string    `json:"wikiPath,omitempty"`
	ServerTime Timestamp `json:"serverTime,omitempty"`
}

type User struct {
	ID           string `json:"id"`
	NickName     string `json:"nickName"`
	Bio          string `json:"bio,omitempty"`
	Email        string `json:"email,omitempty"`
	IconFilePath string `json:"iconFilePath,omitempty"`
}

type Group struct {
	ID          int    `json:"id"`
	GroupName   string `json:"groupName"`
	ImagePath   string `json:"imagePath,omitempty"`
	OwnerID     string `json:"ownerId,omitempty"`
	HasPassword bool   `json:"hasPassword"`
}

type Request struct {
	ID         int       `json:"id"`
	CreatorID  string    `json:"creatorId"`
	Creator    User      `json:"creator"`
	TargetID   string    `json:"targetId"`
	Completed  bool      `json:"completed"`
	CreateTime Timestamp `json:"createTime"`
}

type Contact struct {
	ConversationID    int       `json:"conversationId"`
	DisplayName       string    `json:"displayName"`
	DisplayImagePath  string    `json:"displayImagePath,omitempty"`
	LatestMessage     string    `json:"latestMessage,omitempty"`
	LatestMessageTime Timestamp `json:"latestMessageTime"`
	UnReadAmount      int       `json:"unReadAmount"`
	Discriminator     string    `json:"discriminator"`
	UserID            string    `json:"userId,omitempty"`
	AESKey            string    `json:"aesKey"`
	Muted             bool      `json:"muted"`
	SomeoneAtMe       bool      `json:"someoneAtMe"`
}

type PusherInfo struct {
	Protocol
	ChannelID  int    `json:"channelId"`
	ConnectKey string `json:"connectKey"`
	ServerPath string `json:"serverPath"`
}

type MineResponse struct {
	Protocol
	Users  []User  `json:"users"`
	Groups []Group `json:"groups"`
}

type valueResponse[T any] struct {
	Protocol
	Value T `json:"value"`
}

type collectionResponse[T any] struct {
	Protocol
	Items []T `json:"items"`
}

type protocolCarrier interface {
	protocol() Protocol
}

// EventType is the discriminant of a stargate envelope. It decodes from the
// server's integer enum as well as from the enum's name.
type EventType int

const (
	NewMessage EventType = iota
	NewFriendRequest
	WereDeleted
	FriendAccepted
	TimerUpdated
	NewMember
	SomeoneLeft
	Dissolve

	// Unrecognized marks a discriminant this client does not know.
	Unrecognized EventType = -1
)

var eventTypeNames = map[string]EventType{
	"newmessage":            NewMessage,
	"newfriendrequest":      NewFriendRequest,
	"newfriendrequestevent": NewFriendRequest,
	"weredeleted":           WereDeleted,
	"weredeletedevent":      WereDeleted,
	"friendaccepted":        FriendAccepted,
	"friendacceptedevent":   FriendAccepted,
	"timerupdated":          TimerUpdated,
	"timerupdatedevent":     TimerUpdated,
	"newmember":             NewMember,
	"newmemberevent":        NewMember,
	"someoneleft":           SomeoneLeft,
	"someoneleftevent":      SomeoneLeft,
	"dissolve":              Dissolve,
	"dissolveevent":         Dissolve,
}

func (t *EventType) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == "" {
		*t = Unrecognized
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		if known, ok := eventTypeNames[strings.ToLower(unquoted)]; ok {
			*t = known
			return nil
		}
		raw = unquoted
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < int(NewMessage) || n > int(Dissolve) {
		*t = Unrecognized
		return nil
	}
	*t = EventType(n)
	return nil
}

func (t EventType) String() string {
	switch t {
	case NewMessage:
		return "NewMessage"
	case NewFriendRequest:
		return "NewFriendRequest"
	case WereDeleted:
		return "WereDeleted"
	case FriendAccepted:
		return "FriendAccepted"
	case TimerUpdated:
		return "TimerUpdated"
	case NewMember:
		return "NewMember"
	case SomeoneLeft:
		return "SomeoneLeft"
	case Dissolve:
		return "Dissolve"
	default:
		return fmt.Sprintf("Unrecognized(%d)", int(t))
	}
}

// Envelope carries only the discriminant; the typed payload is decoded in a
// second pass once the kind is known.
type Envelope struct {
	Type            EventType `json:"type"`
	TypeDescription string    `json:"typeDescription,omitempty"`
}

type Message struct {
	ID             int       `json:"id"`
	ConversationID int       `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Sender         User      `json:"sender"`
	Content        string    `json:"content"`
	SendTime       Timestamp `json:"sendTime"`
}

type NewMessageEvent struct {
	Envelope
	Message   Message `json:"message"`
	AESKey    string  `json:"aesKey"`
	Muted     bool    `json:"muted"`
	Mentioned bool    `json:"mentioned"`
}

type NewFriendRequestEvent struct {
	Envelope
	RequestID   int    `json:"requestId"`
	RequesterID string `json:"requesterId"`
	Requester   User   `json:"requester"`
}
