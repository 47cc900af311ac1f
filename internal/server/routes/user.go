package routes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"constructionpro/internal/access"
)

type UserRoutes struct {
	server ServerInterface
}

func NewUserRoutes(server ServerInterface) *UserRoutes {
	return &UserRoutes{server: server}
}

func (ur *UserRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(ur.server)

	// User routes
	r.GET("/user", middleware.AuthMiddleware(), ur.userHandler)
	r.GET("/api/users", middleware.AuthMiddleware(), middleware.AdminMiddleware(), ur.findUserHandler)
	r.PUT("/api/users/:id/role", middleware.AuthMiddleware(), middleware.AdminMiddleware(), ur.updateRoleHandler)
	r.DELETE("/api/users/:id", middleware.AuthMiddleware(), middleware.AdminMiddleware(), ur.deactivateHandler)
}

func (ur *UserRoutes) userHandler(c *gin.Context) {
	user := currentUser(c)

	c.JSON(http.StatusOK, gin.H{
		"user_id":       user.ID,
		"email":         user.Email,
		"name":          user.Name,
		"avatar_url":    user.AvatarURL,
		"role":          user.Role,
		"is_blaster":    user.IsBlaster,
		"authenticated": true,
	})
}

// findUserHandler looks a user up by email, e.g. before granting a role.
func (ur *UserRoutes) findUserHandler(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	user, err := ur.server.GetDB().Models().WithContext(c.Request.Context()).Users.GetByEmail(email)
	if err != nil {
		respondError(c, ur.server.GetLogger(), err, "User")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// deactivateHandler disables a user's access. Their documents, revisions
// and pins stay.
func (ur *UserRoutes) deactivateHandler(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	if id == currentUser(c).ID {
		c.JSON(http.StatusConflict, gin.H{"error": "Admins cannot deactivate themselves"})
		return
	}

	if err := ur.server.GetDB().Models().WithContext(c.Request.Context()).Users.Deactivate(id); err != nil {
		respondError(c, ur.server.GetLogger(), err, "User")
		return
	}

	ur.server.GetLogger().Info(c.Request.Context(), "user deactivated", "user_id", id, "by", currentUser(c).ID)
	c.Status(http.StatusNoContent)
}

// updateRoleHandler sets a user's role and special-access flag.
func (ur *UserRoutes) updateRoleHandler(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}

	var req struct {
		Role      string `json:"role" binding:"required"`
		IsBlaster bool   `json:"is_blaster"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, ok := access.ParseRole(req.Role)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role " + req.Role})
		return
	}

	db := ur.server.GetDB().Models().WithContext(c.Request.Context())
	if err := db.Users.SetRole(id, role, req.IsBlaster); err != nil {
		respondError(c, ur.server.GetLogger(), err, "user")
		return
	}
	user, err := db.Users.Get(id)
	if err != nil {
		respondError(c, ur.server.GetLogger(), err, "user")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
