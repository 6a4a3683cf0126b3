package models

import "strings"

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// ParseGender maps a stored value to a Gender. Anything unknown is "other".
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male":
		return GenderMale
	case "female":
		return GenderFemale
	default:
		return GenderOther
	}
}

// Placeholder images for users without a display image.
// 1. male
// 2. female
// 3. other
var PlaceholderImages = [3]string{
	"https://storage.cloud.google.com/chat_server_local_development/placeholders/display_images/male.jpg",
	"https://storage.cloud.google.com/chat_server_local_development/placeholders/display_images/female.jpg",
	"https://storage.cloud.google.com/chat_server_local_development/placeholders/display_images/other.png",
}

// User is the read-only identity of a participant, as kept by the user directory.
type User struct {
	ID           int64   `json:"id"`
	DisplayName  string  `json:"display_name"`
	DisplayImage *string `json:"display_image"`
	Gender       Gender  `json:"gender"`
}

// Avatar returns the image to render for u.
func (u User) Avatar() string {
	return ResolveAvatar(u.DisplayImage, u.Gender)
}

// ResolveAvatar returns displayImage unless it is nil or empty, in which case
// the placeholder for gender is used.
func ResolveAvatar(displayImage *string, gender Gender) string {
	if displayImage != nil && *displayImage != "" {
		return *displayImage
	}
	switch gender {
	case GenderMale:
		return PlaceholderImages[0]
	case GenderFemale:
		return PlaceholderImages[1]
	default:
		return PlaceholderImages[2]
	}
}
