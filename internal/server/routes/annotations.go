package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"constructionpro/internal/access"
	"constructionpro/internal/annotations"
	"constructionpro/internal/models"
)

type AnnotationRoutes struct {
	server ServerInterface
}

func NewAnnotationRoutes(server ServerInterface) *AnnotationRoutes {
	return &AnnotationRoutes{server: server}
}

func (ar *AnnotationRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(ar.server)

	r.GET("/api/documents/:id/annotations", middleware.AuthMiddleware(), ar.listAnnotationsHandler)
	r.POST("/api/documents/:id/annotations", middleware.AuthMiddleware(), ar.createAnnotationHandler)

	pins := r.Group("/api/annotations", middleware.AuthMiddleware())
	pins.PATCH("/:id", ar.updateAnnotationHandler)
	pins.DELETE("/:id", ar.deleteAnnotationHandler)
	pins.POST("/:id/resolve", ar.resolveAnnotationHandler)
	pins.POST("/:id/unresolve", ar.unresolveAnnotationHandler)
}

// visibleDocument answers 404 and returns false when the caller cannot see
// the document.
func (ar *AnnotationRoutes) visibleDocument(c *gin.Context, id uuid.UUID) bool {
	if _, err := ar.server.GetDocuments().Get(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, ar.server.GetLogger(), err, "Document")
		return false
	}
	return true
}

func canAnnotate(c *gin.Context) bool {
	if !currentUser(c).Role.AtLeast(access.RoleFieldWorker) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Viewers cannot change annotations"})
		return false
	}
	return true
}

// loadAnnotation resolves :id to a pin on a document the caller can see.
func (ar *AnnotationRoutes) loadAnnotation(c *gin.Context) (*models.Annotation, bool) {
	id, ok := uuidParam(c, "id", "annotation")
	if !ok {
		return nil, false
	}
	a, err := ar.server.GetAnnotations().Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, ar.server.GetLogger(), err, "Annotation")
		return nil, false
	}
	if _, err := ar.server.GetDocuments().Get(c.Request.Context(), currentUser(c), a.DocumentID); err != nil {
		// A pin on a hidden document does not exist for this caller.
		respondError(c, ar.server.GetLogger(), err, "Annotation")
		return nil, false
	}
	return a, true
}

func (ar *AnnotationRoutes) listAnnotationsHandler(c *gin.Context) {
	docID, ok := uuidParam(c, "id", "document")
	if !ok {
		return
	}
	page, ok := intQuery(c, "page")
	if !ok {
		return
	}
	if !ar.visibleDocument(c, docID) {
		return
	}

	pins, err := ar.server.GetAnnotations().List(c.Request.Context(), docID, page)
	if err != nil {
		respondError(c, ar.server.GetLogger(), err, "Annotation")
		return
	}

	c.JSON(http.StatusOK, gin.H{"annotations": pins})
}

func (ar *AnnotationRoutes) createAnnotationHandler(c *gin.Context) {
	docID, ok := uuidParam(c, "id", "document")
	if !ok {
		return
	}

	var req annotations.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !canAnnotate(c) || !ar.visibleDocument(c, docID) {
		return
	}

	req.DocumentID = docID
	req.CreatedBy = currentUser(c).ID
	pin, err := ar.server.GetAnnotations().Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, ar.server.GetLogger(), err, "Annotation")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"annotation": pin})
}

func (ar *AnnotationRoutes) updateAnnotationHandler(c *gin.Context) {
	var req annotations.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !canAnnotate(c) {
		return
	}
	a, ok := ar.loadAnnotation(c)
	if !ok {
		return
	}

	pin, err := ar.server.GetAnnotations().Update(c.Request.Context(), a.ID, req, currentUser(c).ID)
	if err != nil {
		respondError(c, ar.server.GetLogger(), err, "Annotation")
		return
	}

	c.JSON(http.StatusOK, gin.H{"annotation": pin})
}

func (ar *AnnotationRoutes) deleteAnnotationHandler(c *gin.Context) {
	if !canAnnotate(c) {
		return
	}
	a, ok := ar.loadAnnotation(c)
	if !ok {
		return
	}

	if err := ar.server.GetAnnotations().Delete(c.Request.Context(), a.ID, currentUser(c).ID); err != nil {
		respondError(c, ar.server.GetLogger(), err, "Annotation")
		return
	}

	c.Status(http.StatusNoContent)
}

func (ar *AnnotationRoutes) resolveAnnotationHandler(c *gin.Context) {
	if !canAnnotate(c) {
		return
	}
	a, ok := ar.loadAnnotation(c)
	if !ok {
		return
	}

	pin, err := ar.server.GetAnnotations().Resolve(c.Request.Context(), a.ID, currentUser(c).ID)
	if err != nil {
		respondError(c, ar.server.GetLogger(), err, "Annotation")
		return
	}

	c.JSON(http.StatusOK, gin.H{"annotation": pin})
}

func (ar *AnnotationRoutes) unresolveAnnotationHandler(c *gin.Context) {
	if !canAnnotate(c) {
		return
	}
	a, ok := ar.loadAnnotation(c)
	if !ok {
		return
	}

	pin, err := ar.server.GetAnnotations().Unresolve(c.Request.Context(), a.ID, currentUser(c).ID)
	if err != nil {
		respondError(c, ar.server.GetLogger(), err, "Annotation")
		return
	}

	c.JSON(http.StatusOK, gin.H{"annotation": pin})
}
