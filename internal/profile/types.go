package profile

import (
	"time"

	"github.com/kalambet/timeledger/internal/storage"
)

// Profile is the user document at users/{uid}.
type Profile struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL"`
	Timezone    string    `json:"timezone"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	LastLoginAt time.Time `json:"lastLoginAt,omitzero"`
}

// Login carries the identity fields refreshed on every sign-in.
type Login struct {
	Email       string
	DisplayName string
	PhotoURL    string
}

// Path is the path of the profile document of uid.
func Path(uid string) string {
	return storage.Doc("users", uid)
}

// Editable profile fields accepted by SetField.
const (
	FieldEmail       = "email"
	FieldDisplayName = "displayName"
	FieldPhotoURL    = "photoURL"
	FieldTimezone    = "timezone"
)

var editableFields = map[string]bool{
	FieldEmail:       true,
	FieldDisplayName: true,
	FieldPhotoURL:    true,
	FieldTimezone:    true,
}

func decodeProfile(uid string, snap storage.Snapshot, defaultTZ string) Profile {
	p := Profile{UID: uid, Timezone: defaultTZ}
	if !snap.Exists {
		return p
	}
	str := func(k string) string {
		s, _ := snap.Data[k].(string)
		return s
	}
	if v := str("uid"); v != "" {
		p.UID = v
	}
	p.Email = str("email")
	p.DisplayName = str("displayName")
	p.PhotoURL = str("photoURL")
	if tz := str("timezone"); tz != "" {
		p.Timezone = tz
	}
	p.CreatedAt = parseTime(str("createdAt"))
	p.LastLoginAt = parseTime(str("lastLoginAt"))
	return p
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
