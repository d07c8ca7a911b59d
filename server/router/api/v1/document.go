package v1

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/papertalk/papertalk/store"
)

// maxDocumentBytes caps uploads; extracted text for retrieval rarely needs
// more.
const maxDocumentBytes = 32 << 20

// DocumentResponse is the wire shape of an uploaded document.
type DocumentResponse struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	CreatedTs   int64  `json:"created_ts"`
}

func toDocumentResponse(d *store.Document) DocumentResponse {
	return DocumentResponse{
		ID:          d.UID,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		Size:        d.Size,
		CreatedTs:   d.CreatedTs,
	}
}

// ListDocuments returns the owner's uploaded documents, newest first.
// GET /api/v1/documents
func (s *APIV1Service) ListDocuments(c echo.Context) error {
	userID := userIDFromContext(c)
	list, err := s.store.ListDocuments(c.Request().Context(), &store.FindDocument{CreatorID: &userID})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list documents"})
	}

	resp := make([]DocumentResponse, 0, len(list))
	for _, doc := range list {
		resp = append(resp, toDocumentResponse(doc))
	}
	return c.JSON(http.StatusOK, resp)
}

// UploadDocument stores an uploaded file. The multipart form may carry an
// optional "text" field with pre-extracted plain text; otherwise the
// extraction plugin pulls text from the file content.
// POST /api/v1/documents
func (s *APIV1Service) UploadDocument(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file is required"})
	}
	if fileHeader.Size > maxDocumentBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read file"})
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxDocumentBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read file"})
	}

	contentType := fileHeader.Header.Get("Content-Type")
	extracted := c.FormValue("text")
	if extracted == "" {
		extracted, err = s.extractor.Extract(c.Request().Context(), content, contentType)
		if err != nil {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "failed to extract text from file"})
		}
	}

	doc, err := s.store.CreateDocument(c.Request().Context(), &store.Document{
		CreatorID:     userIDFromContext(c),
		Filename:      fileHeader.Filename,
		ContentType:   contentType,
		Size:          fileHeader.Size,
		ExtractedText: extracted,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store document"})
	}
	return c.JSON(http.StatusCreated, toDocumentResponse(doc))
}

// DeleteDocument removes an uploaded document.
// DELETE /api/v1/documents/:id
func (s *APIV1Service) DeleteDocument(c echo.Context) error {
	uid := c.Param("id")
	userID := userIDFromContext(c)

	docs, err := s.store.ListDocuments(c.Request().Context(), &store.FindDocument{UID: &uid, CreatorID: &userID})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to find document"})
	}
	if len(docs) == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
	}

	if err := s.store.DeleteDocument(c.Request().Context(), &store.DeleteDocument{UID: uid}); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete document"})
	}
	return c.NoContent(http.StatusNoContent)
}
