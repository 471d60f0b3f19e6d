package slshortener

import "time"

// User représente un compte propriétaire de liens
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null" json:"username"`
	Hash      string    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Link représente un lien raccourci
type Link struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ShortCode   string    `gorm:"uniqueIndex;not null" json:"short_code"`
	OriginalURL string    `gorm:"not null" json:"original_url"`
	Owner       string    `gorm:"index" json:"owner,omitempty"`
	QRCode      string    `json:"qr_code,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`

	Clicks int64 `gorm:"-" json:"clicks"`
}

// ClickEvent représente une visite enregistrée sur un lien court.
// Immuable une fois écrite, jamais mise à jour.
type ClickEvent struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	LinkID    uint      `gorm:"index;not null" json:"link_id"`
	ClickedAt time.Time `gorm:"index" json:"clicked_at"`
	UserAgent string    `json:"user_agent"`
	Location  string    `json:"location"`
	Referrer  string    `json:"referrer"`
	IPAddress string    `json:"ip_address"`
}

// TableName spécifie le nom de la table pour User
func (User) TableName() string {
	return "users"
}

// TableName spécifie le nom de la table pour Link
func (Link) TableName() string {
	return "links"
}

// TableName spécifie le nom de la table pour ClickEvent
func (ClickEvent) TableName() string {
	return "click_events"
}
