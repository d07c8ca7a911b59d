package store

// Document is an uploaded file the user can ask questions about.
// ExtractedText holds the plain text pulled out of the file at upload time;
// retrieval ranks against it when building answer context.
type Document struct {
	UID       string
	CreatorID int32

	Filename    string
	ContentType string
	Size        int64

	ExtractedText string

	CreatedTs int64
}

type FindDocument struct {
	UID       *string
	CreatorID *int32
	Limit     *int
}

type DeleteDocument struct {
	UID string
}
