package models

// Sponsor is a partner account that funds rewards and validates redemptions.
// QRSecret signs issued QR codes; bumping QRSecretVersion invalidates every
// previously issued code for the sponsor.
type Sponsor struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID string `gorm:"index;not null" json:"owner_id"` // user account operating this sponsor
	Name    string `gorm:"not null" json:"name"`

	QRSecret        string `json:"-"` // opaque signing key, generated lazily
	QRSecretVersion int    `json:"qr_secret_version" gorm:"default:0"`
	QRExpiryMinutes int    `json:"qr_expiry_minutes" gorm:"default:5"`
	LastNonce       string `json:"-"`

	Timestamps
}
