package models

import "time"

const (
	// MinQty and MaxQty bound an item's quantity
	MinQty = 1
	MaxQty = 999

	// DefaultPushTitle is used when a notification has no title
	DefaultPushTitle = "Shukku List"
)

// User represents a user in the system
type User struct {
	ID        string    `json:"id"`
	Tokens    []string  `json:"tokens"`
	ListID    *string   `json:"list_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasToken reports whether the push token is already registered
func (u *User) HasToken(token string) bool {
	for _, t := range u.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

// Pair is the shared list document owned jointly by its users
type Pair struct {
	ID         string    `json:"id"`
	Users      []string  `json:"users"`
	Items      []Item    `json:"items"`
	InviteCode string    `json:"invite_code"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasMember reports whether the user belongs to the pair
func (p *Pair) HasMember(userID string) bool {
	for _, u := range p.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate items freely
func (p *Pair) Clone() *Pair {
	c := *p
	c.Users = append([]string(nil), p.Users...)
	c.Items = append([]Item(nil), p.Items...)
	return &c
}

// Item is one entry of a shopping list
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Qty       int       `json:"qty"`
	AddedBy   string    `json:"added_by"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
	Link      string    `json:"link,omitempty"`
	Image     string    `json:"image,omitempty"`
	Price     string    `json:"price,omitempty"`
	Site      string    `json:"site,omitempty"`
}

// ListView is what a client renders from a pair snapshot
type ListView struct {
	PairID           string   `json:"pair_id"`
	InviteCode       string   `json:"invite_code"`
	Users            []string `json:"users"`
	PartnerConnected bool     `json:"partner_connected"`
	Items            []Item   `json:"items"`
	Version          int64    `json:"version"`
}

// NewListView builds the rendered view of a pair
func NewListView(p *Pair) *ListView {
	items := p.Items
	if items == nil {
		items = []Item{}
	}
	return &ListView{
		PairID:           p.ID,
		InviteCode:       p.InviteCode,
		Users:            p.Users,
		PartnerConnected: len(p.Users) > 1,
		Items:            items,
		Version:          p.Version,
	}
}

// Metadata is a product preview scraped from a URL
type Metadata struct {
	Title string `json:"title"`
	Image string `json:"image"`
	Price string `json:"price"`
	Site  string `json:"site"`
	URL   string `json:"url"`
}

// PushNotification is the visible part of a push message
type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PushMessage is the payload delivered to client devices
type PushMessage struct {
	Notification PushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}
