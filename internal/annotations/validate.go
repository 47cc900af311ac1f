package annotations

import (
	"fmt"
	"math"
	"strings"

	"constructionpro/internal/common"
	"constructionpro/internal/models"
)

// linkedTypeFor is the linked entity type each non-comment kind points at.
var linkedTypeFor = map[models.AnnotationKind]string{
	models.KindIssue:     models.LinkedIssue,
	models.KindRFI:       models.LinkedRFI,
	models.KindPunchList: models.LinkedPunchList,
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

func validatePosition(x, y float64) error {
	if !onPage(x) {
		return invalid("x must be within [0,1], got %v", x)
	}
	if !onPage(y) {
		return invalid("y must be within [0,1], got %v", y)
	}
	return nil
}

func onPage(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// validate checks a complete annotation before it is written.
func validate(a *models.Annotation) error {
	if a.PageNumber < 1 {
		return invalid("page_number must be at least 1")
	}
	if err := validatePosition(a.X, a.Y); err != nil {
		return err
	}
	if !a.Kind.Valid() {
		return invalid("unknown kind %q", a.Kind)
	}

	hasComment := a.Comment != nil && strings.TrimSpace(*a.Comment) != ""
	hasLink := a.Linked != nil

	if a.Kind == models.KindComment {
		if !hasComment {
			return invalid("comment annotations need comment text")
		}
		if hasLink {
			return invalid("comment annotations cannot link an entity")
		}
		return nil
	}

	switch {
	case hasComment && hasLink:
		return invalid("%s annotations take a comment or a linked entity, not both", a.Kind)
	case !hasComment && !hasLink:
		return invalid("%s annotations need a comment or a linked entity", a.Kind)
	case hasLink:
		if want := linkedTypeFor[a.Kind]; a.Linked.Type != want {
			return invalid("%s annotations link %q entities, got %q", a.Kind, want, a.Linked.Type)
		}
		if strings.TrimSpace(a.Linked.ID) == "" {
			return invalid("linked entity id is required")
		}
	}
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
