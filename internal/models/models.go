package models

import "fmt"

// StateVersion is the schema version of ChatState and Snapshot records.
// Snapshots written with another version are discarded on load.
const StateVersion = 1

// Mode is the workflow a chat is currently waiting to continue
type Mode string

const (
	ModeIdle                 Mode = ""
	ModeWhatAnime            Mode = "whatanime"
	ModeIqdb                 Mode = "iqdb"
	ModeConfigureVkGroups    Mode = "configure_vk_groups"
	ModeConfigureVkGroupsAdd Mode = "configure_vk_groups_add"
	ModeSoundboardJojo       Mode = "soundboard_jojo"
	ModeSoundboardGachi      Mode = "soundboard_gachi"
)

// Title returns a human-readable workflow name
func (m Mode) Title() string {
	switch m {
	case ModeIdle:
		return "none"
	case ModeWhatAnime:
		return "whatanime.ga: anime search"
	case ModeIqdb:
		return "iqdb.org: multi-service image search"
	case ModeConfigureVkGroups:
		return "VK module configuration"
	case ModeConfigureVkGroupsAdd:
		return "Adding VK groups for picture posting"
	case ModeSoundboardJojo:
		return "JoJo's Bizarre Adventure soundboard"
	case ModeSoundboardGachi:
		return "Gachimuchi soundboard"
	default:
		return string(m)
	}
}

// VkGroup is a VK community used as a picture source
type VkGroup struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

func (g VkGroup) String() string {
	return fmt.Sprintf("%s (%s) #%d", g.Name, g.ScreenName, g.ID)
}

// DefaultVkGroups is the group list a new chat starts with
func DefaultVkGroups() []VkGroup {
	return []VkGroup{{ID: 29937425, Name: "Sailor fuku", ScreenName: "seifuku_blog"}}
}

// ChatState is the per-chat session record
type ChatState struct {
	Version          int       `json:"version"`
	Mode             Mode      `json:"mode"`
	MessageIDToReply *int      `json:"message_id_to_reply,omitempty"`
	VkGroups         []VkGroup `json:"vk_groups"`
	Title            string    `json:"title"`
	Members          []string  `json:"members,omitempty"`
}

// NewChatState creates an idle chat with the default VK groups
func NewChatState(title string) *ChatState {
	return &ChatState{
		Version:  StateVersion,
		Mode:     ModeIdle,
		VkGroups: DefaultVkGroups(),
		Title:    title,
	}
}

// Clone returns a deep copy
func (c *ChatState) Clone() *ChatState {
	if c == nil {
		return nil
	}
	out := *c
	if c.MessageIDToReply != nil {
		id := *c.MessageIDToReply
		out.MessageIDToReply = &id
	}
	if c.VkGroups != nil {
		out.VkGroups = append([]VkGroup(nil), c.VkGroups...)
	}
	if c.Members != nil {
		out.Members = append([]string(nil), c.Members...)
	}
	return &out
}

// HasMember reports whether handle was seen in the chat
func (c *ChatState) HasMember(handle string) bool {
	for _, m := range c.Members {
		if m == handle {
			return true
		}
	}
	return false
}

// Snapshot is everything the bot persists between runs
type Snapshot struct {
	Version int                  `json:"version"`
	Users   map[string]int64     `json:"users"`
	Chats   map[int64]*ChatState `json:"chats"`
}

// NewSnapshot returns an empty snapshot of the current version
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version: StateVersion,
		Users:   make(map[string]int64),
		Chats:   make(map[int64]*ChatState),
	}
}

// Sound is a soundboard clip
type Sound struct {
	FullURL    string `json:"full_url"`
	Category   string `json:"category"`
	PrettyName string `json:"pretty_name"`
}

func (s Sound) String() string {
	return fmt.Sprintf("<url: %s; %s, %s>", s.FullURL, s.Category, s.PrettyName)
}
