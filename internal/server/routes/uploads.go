package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"constructionpro/internal/access"
	"constructionpro/internal/storage"
)

type UploadRoutes struct {
	server ServerInterface
}

func NewUploadRoutes(server ServerInterface) *UploadRoutes {
	return &UploadRoutes{server: server}
}

func (ur *UploadRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(ur.server)

	r.POST("/api/uploads", middleware.AuthMiddleware(), ur.uploadHandler)
	r.DELETE("/api/uploads", middleware.AuthMiddleware(), ur.discardHandler)
}

// uploadHandler stores a file and returns the storage key to pass to
// document creation or re-upload.
func (ur *UploadRoutes) uploadHandler(c *gin.Context) {
	user := currentUser(c)
	if !user.Role.AtLeast(access.RoleFieldWorker) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Viewers cannot upload documents"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, ur.server.MaxUploadBytes())

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "A file is required"})
		return
	}
	defer file.Close()

	result, err := ur.server.GetFileStore().Upload(c.Request.Context(), storage.UploadInput{
		Body:       file,
		Filename:   header.Filename,
		UploaderID: user.ID,
	})
	if err != nil {
		respondError(c, ur.server.GetLogger(), err, "File")
		return
	}

	ur.server.GetLogger().Info(c.Request.Context(), "file uploaded",
		"user_id", user.ID, "storage_key", result.Key, "size", result.FileSize)
	c.JSON(http.StatusCreated, result)
}

// discardHandler deletes an upload that was never filed as a document.
func (ur *UploadRoutes) discardHandler(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	ctx := c.Request.Context()
	if err := ur.server.GetDocuments().DiscardUpload(ctx, currentUser(c), key); err != nil {
		respondError(c, ur.server.GetLogger(), err, "File")
		return
	}
	if err := ur.server.GetPresigner().Forget(ctx, key); err != nil {
		ur.server.GetLogger().Warn(ctx, "forget presigned url", "storage_key", key, "error", err)
	}

	c.Status(http.StatusNoContent)
}
