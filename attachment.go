package faultline

// An Attachment is an arbitrary file sent alongside an event. Attachments
// ride in the same envelope as the event they belong to.
type Attachment struct {
	Filename    string
	ContentType string
	Payload     []byte
}
