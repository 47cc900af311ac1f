package routes

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/markbates/goth/gothic"

	"constructionpro/internal/annotations"
	"constructionpro/internal/auth"
	"constructionpro/internal/database"
	"constructionpro/internal/documents"
	"constructionpro/internal/logging"
	"constructionpro/internal/models"
	"constructionpro/internal/storage"
)

type AuthRoutes struct {
	server ServerInterface
}

// ServerInterface is what the route groups need from the server.
type ServerInterface interface {
	GetDB() database.Service
	GetDocuments() *documents.Service
	GetAnnotations() *annotations.Store
	GetFileStore() storage.FileStore
	GetPresigner() *storage.Presigner
	GetLogger() logging.Logger
	FrontendURL() string
	MaxUploadBytes() int64
}

func NewAuthRoutes(server ServerInterface) *AuthRoutes {
	return &AuthRoutes{server: server}
}

func (ar *AuthRoutes) RegisterRoutes(r *gin.Engine) {
	// OAuth routes
	r.GET("/auth/:provider", ar.authHandler)
	r.GET("/auth/:provider/callback", ar.authCallbackHandler)
	r.GET("/logout", ar.logoutHandler)
}

// gothRequest copies the request with the provider in the query, where
// gothic looks for it.
func gothRequest(c *gin.Context, path string) *http.Request {
	provider := c.Param("provider")

	req := c.Request.Clone(c.Request.Context())
	req.URL.Path = path

	q := req.URL.Query()
	q.Set("provider", provider)
	req.URL.RawQuery = q.Encode()
	return req
}

func (ar *AuthRoutes) authHandler(c *gin.Context) {
	gothic.BeginAuthHandler(c.Writer, gothRequest(c, "/auth/"+c.Param("provider")))
}

func (ar *AuthRoutes) authCallbackHandler(c *gin.Context) {
	ctx := c.Request.Context()
	log := ar.server.GetLogger()

	gothUser, err := gothic.CompleteUserAuth(c.Writer, gothRequest(c, "/auth/"+c.Param("provider")+"/callback"))
	if err != nil {
		log.Warn(ctx, "oauth callback failed", "provider", c.Param("provider"), "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authentication failed"})
		return
	}

	db := ar.server.GetDB().Models().WithContext(ctx)
	user, err := db.Users.UpsertFromProvider(models.User{
		Provider:   gothUser.Provider,
		ProviderID: gothUser.UserID,
		Email:      gothUser.Email,
		Name:       gothUser.Name,
		AvatarURL:  gothUser.AvatarURL,
	})
	if err != nil {
		log.Error(ctx, "save oauth user", "provider", gothUser.Provider, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save user"})
		return
	}

	session := sessions.Default(c)
	session.Set(auth.SessionUserID, user.ID)
	session.Set(auth.SessionEmail, user.Email)
	if err := session.Save(); err != nil {
		log.Error(ctx, "save session", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
		return
	}

	log.Info(ctx, "user logged in", "user_id", user.ID, "provider", user.Provider)
	c.Redirect(http.StatusTemporaryRedirect, ar.server.FrontendURL()+"/documents")
}

func (ar *AuthRoutes) logoutHandler(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()

	c.Redirect(http.StatusFound, ar.server.FrontendURL()+"/")
}
