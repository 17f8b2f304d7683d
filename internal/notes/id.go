package notes

import "github.com/google/uuid"

// IDProvider issues opaque record identifiers for notes and tags.
type IDProvider interface {
	NewID() (string, error)
}

// IDProviderFunc adapts a plain function to IDProvider.
type IDProviderFunc func() (string, error)

// NewID calls f.
func (f IDProviderFunc) NewID() (string, error) {
	return f()
}

// NewUUIDProvider returns an IDProvider issuing UUIDv7 strings. They sort by
// creation time, so they order records that share a created_at_ms value.
func NewUUIDProvider() IDProvider {
	return IDProviderFunc(func() (string, error) {
		value, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		return value.String(), nil
	})
}
