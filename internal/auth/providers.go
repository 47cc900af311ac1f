// Package auth configures the OAuth providers used for login.
package auth

import (
	"errors"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"

	"constructionpro/internal/config"
)

// Session keys written after a successful login.
const (
	SessionUserID = "user_id"
	SessionEmail  = "email"
)

var ErrNoProviders = errors.New("no oauth providers configured")

// InitGothProviders registers every provider with credentials in cfg and
// lets gothic keep its handshake state in store.
func InitGothProviders(cfg config.OAuthConfig, store sessions.Store) error {
	gothic.Store = store

	var providers []goth.Provider
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		providers = append(providers, google.New(
			cfg.GoogleClientID,
			cfg.GoogleClientSecret,
			CallbackURL(cfg.CallbackBaseURL, "google"),
			"email", "profile",
		))
	}
	if len(providers) == 0 {
		return ErrNoProviders
	}

	goth.UseProviders(providers...)
	return nil
}

// CallbackURL is where provider sends the browser back to.
func CallbackURL(base, provider string) string {
	return strings.TrimRight(base, "/") + "/auth/" + provider + "/callback"
}
