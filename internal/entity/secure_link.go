package domain

import "time"

type AttachmentKind string

const (
	AttachmentPDF   AttachmentKind = "PDF"
	AttachmentVideo AttachmentKind = "VIDEO"
	AttachmentLive  AttachmentKind = "LIVE" // meeting links; never delivered through secure links
)

type Attachment struct {
	ID       string         `json:"id"`
	CourseID string         `json:"course_id"`
	FileRef  string         `json:"file_ref"`
	Kind     AttachmentKind `json:"kind"`
}

func (a Attachment) Deliverable() bool { return a.Kind != AttachmentLive && a.FileRef != "" }

type SecureLink struct {
	Token         string
	OrderID       string
	OrderItemID   string
	AttachmentID  string
	FileRef       string
	ExpiresAt     time.Time
	RemainingUses int
	CreatedAt     time.Time
}

// Usable reports whether the link may be resolved at now. A link is valid
// strictly before ExpiresAt.
func (l *SecureLink) Usable(now time.Time) error {
	if !now.Before(l.ExpiresAt) || l.RemainingUses <= 0 {
		return ErrExpiredLink
	}
	return nil
}
