package annotator

import (
	"encoding/json"

	"constructionpro/internal/fieldsync/apiclient"
	"constructionpro/internal/fieldsync/syncqueue"
)

func pinFromInput(documentID string, in apiclient.AnnotationInput) apiclient.Annotation {
	return apiclient.Annotation{
		DocumentID: documentID,
		PageNumber: in.PageNumber,
		X:          in.X,
		Y:          in.Y,
		Kind:       in.Kind,
		Label:      in.Label,
		Comment:    in.Comment,
		Linked:     in.Linked,
	}
}

func inputFromPin(p apiclient.Annotation) apiclient.AnnotationInput {
	return apiclient.AnnotationInput{
		PageNumber: p.PageNumber,
		X:          p.X,
		Y:          p.Y,
		Kind:       p.Kind,
		Label:      p.Label,
		Comment:    p.Comment,
		Linked:     p.Linked,
	}
}

// patchTo builds an edit that sets every editable field to p's value.
func patchTo(p apiclient.Annotation) apiclient.AnnotationPatch {
	patch := apiclient.AnnotationPatch{
		X:       &p.X,
		Y:       &p.Y,
		Kind:    &p.Kind,
		Label:   orEmpty(p.Label),
		Comment: orEmpty(p.Comment),
	}
	if p.Linked != nil {
		linked := *p.Linked
		patch.Linked = &linked
	} else {
		patch.UnlinkEntity = true
	}
	return patch
}

// sameContent compares the fields a user can edit.
func sameContent(a, b apiclient.Annotation) bool {
	return a.X == b.X && a.Y == b.Y && a.Kind == b.Kind &&
		deref(a.Label) == deref(b.Label) &&
		deref(a.Comment) == deref(b.Comment) &&
		sameLink(a.Linked, b.Linked)
}

func sameLink(a, b *apiclient.LinkedEntity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orEmpty(s *string) *string {
	v := deref(s)
	return &v
}

func decodeCreate(payload []byte) (syncqueue.AnnotationCreate, error) {
	var in syncqueue.AnnotationCreate
	err := json.Unmarshal(payload, &in)
	return in, err
}
