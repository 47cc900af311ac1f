package routes

import (
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"constructionpro/internal/documents"
	"constructionpro/internal/models"
)

type DocumentRoutes struct {
	server ServerInterface
}

func NewDocumentRoutes(server ServerInterface) *DocumentRoutes {
	return &DocumentRoutes{server: server}
}

func (dr *DocumentRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(dr.server)

	api := r.Group("/api/documents", middleware.AuthMiddleware())
	api.GET("", dr.listDocumentsHandler)
	api.POST("", dr.createDocumentHandler)
	api.GET("/:id", dr.getDocumentHandler)
	api.PATCH("/:id", dr.updateDocumentHandler)
	api.GET("/:id/assignments", dr.listAssignmentsHandler)
	api.PUT("/:id/assignments", middleware.AdminMiddleware(), dr.replaceAssignmentsHandler)
	api.GET("/:id/revisions", dr.listRevisionsHandler)
	api.POST("/:id/revisions", dr.createRevisionHandler)
	api.GET("/:id/download", dr.downloadHandler)
}

// listQuery is the raw query string of a listing request.
type listQuery struct {
	ProjectID       string `form:"project_id" binding:"omitempty,uuid"`
	Category        string `form:"category"`
	Search          string `form:"search" binding:"max=200"`
	AssignedTo      string `form:"assigned_to"`
	IncludeArchived bool   `form:"include_archived"`
	Page            int    `form:"page" binding:"omitempty,min=1"`
	Limit           int    `form:"limit" binding:"omitempty,min=1"`
}

func (q listQuery) filter() (documents.ListFilter, error) {
	f := documents.ListFilter{
		Search:          q.Search,
		IncludeArchived: q.IncludeArchived,
		Page:            q.Page,
		Limit:           q.Limit,
	}
	if q.ProjectID != "" {
		id, err := uuid.Parse(q.ProjectID)
		if err != nil {
			return f, fmt.Errorf("invalid project_id")
		}
		f.ProjectID = &id
	}
	if q.Category != "" {
		c := models.Category(strings.ToUpper(q.Category))
		f.Category = &c
	}
	if q.AssignedTo != "" {
		for _, part := range strings.Split(q.AssignedTo, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return f, fmt.Errorf("assigned_to must be a comma separated list of user ids")
			}
			f.AssignedTo = append(f.AssignedTo, id)
		}
	}
	return f, nil
}

func (dr *DocumentRoutes) listDocumentsHandler(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter, err := q.filter()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := dr.server.GetDocuments().List(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		respondError(c, dr.server.GetLogger(), err, "Document")
		return
	}

	c.JSON(http.StatusOK, result)
}

func (dr *DocumentRoutes) getDocumentHandler(c *gin.Context) {
	id, ok := uuidParam(c, "id", "document")
	if !ok {
		return
	}

	doc, err := dr.server.GetDocuments().Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, dr.server.GetLogger(), err, "Document")
		return
	}

	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (dr *DocumentRoutes) createDocumentHandler(c *gin.Context) {
	var req documents.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := dr.server.GetDocuments().Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, dr.server.GetLogger(), err, "Document")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"document": doc})
}

func (dr *DocumentRoutes) updateDocumentHandler(c *gin.Context) {
	id, ok := uuidParam(c, "id", "document")
	if !ok {
		return
	}

	var req documents.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := dr.server.GetDocuments().Update(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		respondError(c, dr.server.GetLogger(), err, "Document")
		return
	}

	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (dr *DocumentRoutes) listAssignmentsHandler(c *gin.Context) {
	id, ok := uuidParam(c, "id", "document")
	if !ok {
		return
	}

	rows, err := dr.server.GetDocuments().Assignments(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, dr.server.GetLogger(), err, "Document")
		return
	}

	c.JSON(http.StatusOK, gin.H{"assignments": rows})
}

func (dr *DocumentRoutes) replaceAssignmentsHandler(c *gin.Context) {
	id, ok := uuidParam(c, "id", "document")
	if !ok {
		return
	}

	var req struct {
		AssigneeIDs []int `json:"assignee_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := dr.server.GetDocuments().ReplaceAssignments(c.Request.Context(), currentUser(c), id, req.AssigneeIDs)
	if err != nil {
		respondError(c, dr.server.GetLogger(), err, "Document")
		return
	}

	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (dr *DocumentRoutes) listRevisionsHandler(c *gin.Context) {
	id, ok := uuidParam(c, "id", "document")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	n := 0
	if limit != nil {
		n = *limit
	}
	revs, err := dr.server.GetDocuments().Revisions(c.Request.Context(), currentUser(c), id, n)
	if err != nil {
		respondError(c, dr.server.GetLogger(), err, "Document")
		return
	}

	c.JSON(http.StatusOK, gin.H{"revisions": revs})
}

func (dr *DocumentRoutes) createRevisionHandler(c *gin.Context) {
	id, ok := uuidParam(c, "id", "document")
	if !ok {
		return
	}

	var req documents.ReuploadInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rev, err := dr.server.GetDocuments().Reupload(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		respondError(c, dr.server.GetLogger(), err, "Document")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"revision": rev})
}

// downloadHandler serves one revision's file. Client-side encrypted objects
// are decrypted and streamed; everything else gets a presigned URL.
func (dr *DocumentRoutes) downloadHandler(c *gin.Context) {
	id, ok := uuidParam(c, "id", "document")
	if !ok {
		return
	}
	version, ok := intQuery(c, "version")
	if !ok {
		return
	}

	v := 0
	if version != nil {
		v = *version
	}
	ctx := c.Request.Context()
	rev, err := dr.server.GetDocuments().Revision(ctx, currentUser(c), id, v)
	if err != nil {
		respondError(c, dr.server.GetLogger(), err, "Revision")
		return
	}

	files := dr.server.GetFileStore()
	if files.Encrypted() {
		file, err := files.Download(ctx, rev.StorageKey)
		if err != nil {
			respondError(c, dr.server.GetLogger(), err, "File")
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(rev.StorageKey)))
		c.Header("X-Content-SHA256", file.FileHash)
		c.Data(http.StatusOK, file.MimeType, file.Data)
		return
	}

	url, expiresAt, err := dr.server.GetPresigner().URL(ctx, rev.StorageKey)
	if err != nil {
		respondError(c, dr.server.GetLogger(), err, "File")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_at": expiresAt,
		"version":    rev.Version,
	})
}
