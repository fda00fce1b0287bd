// Package destination parses broadcast destination strings into a tagged
// variant once, at the boundary.
package destination

import "strings"

// Kind identifies a destination family.
type Kind int

const (
	Unknown Kind = iota
	Chat
	Typing
	Presence
	User
	App
)

func (k Kind) String() string {
	switch k {
	case Chat:
		return "chat"
	case Typing:
		return "typing"
	case Presence:
		return "presence"
	case User:
		return "user"
	case App:
		return "app"
	default:
		return "unknown"
	}
}

// Application-inbound destinations.
const (
	SendMessage = "app.chat.sendMessage"
	SendTyping  = "app.chat.typing"
)

// Destination is a parsed destination. RoomID holds the room id for Chat and
// Typing and the room name for Presence. Queue holds the queue name for User
// and the action for App.
type Destination struct {
	Kind     Kind
	RoomID   string
	Username string
	Queue    string
}

var roomKinds = map[string]Kind{"chat": Chat, "typing": Typing, "presence": Presence}

// Parse parses s. Malformed input yields Kind Unknown, never an error.
func Parse(s string) Destination {
	prefix, rest, ok := strings.Cut(s, ".")
	if !ok || rest == "" {
		return Destination{}
	}

	switch prefix {
	case "chat", "typing", "presence":
		if strings.ContainsAny(rest, ".*") || strings.TrimSpace(rest) == "" {
			return Destination{}
		}
		return Destination{Kind: roomKinds[prefix], RoomID: rest}
	case "user":
		username, queue, ok := strings.Cut(rest, ".")
		if !ok || username == "" || queue == "" || strings.Contains(username, "*") {
			return Destination{}
		}
		return Destination{Kind: User, Username: username, Queue: queue}
	case "app":
		return Destination{Kind: App, Queue: rest}
	default:
		return Destination{}
	}
}

// String renders d back to its wire form. Unknown renders as "".
func (d Destination) String() string {
	switch d.Kind {
	case Chat, Typing, Presence:
		return d.Kind.String() + "." + d.RoomID
	case User:
		return "user." + d.Username + "." + d.Queue
	case App:
		return "app." + d.Queue
	default:
		return ""
	}
}

// IsRoomScoped reports whether subscribing requires room membership.
func (d Destination) IsRoomScoped() bool {
	return d.Kind == Chat || d.Kind == Typing
}

// ChatOf returns the chat destination for a room.
func ChatOf(roomID string) string { return "chat." + roomID }

// TypingOf returns the typing destination for a room.
func TypingOf(roomID string) string { return "typing." + roomID }

// PresenceOf returns the presence destination for a room name.
func PresenceOf(roomName string) string { return "presence." + roomName }

// UserOf returns a point-to-point destination.
func UserOf(username, queue string) string { return "user." + username + "." + queue }
