package cache

// Key identifies a cached object by the identifier of its source and the
// display variant it was decoded for
type Key struct {
	identifier string
	variant    string
	hasVariant bool
}

// NewKey creates a new Key for the given identifier and variant
func NewKey(identifier string, variant string) Key {
	return Key{
		identifier: identifier,
		variant:    variant,
		hasVariant: true,
	}
}

// NewIdentifierKey creates a new Key matching any variant of the given identifier
func NewIdentifierKey(identifier string) Key {
	return Key{
		identifier: identifier,
	}
}

// GetIdentifier returns the identifier of the key
func (key Key) GetIdentifier() string {
	return key.identifier
}

// GetVariant returns the variant of the key and whether one is set
func (key Key) GetVariant() (string, bool) {
	return key.variant, key.hasVariant
}

// Matches checks if two keys identify the same cached object.
// Identifiers must be equal; a missing variant on either side matches any
// variant on the other, so a variant-specific key also matches a
// variant-less entry.
func (key Key) Matches(other Key) bool {
	if key.identifier != other.identifier {
		return false
	}

	if key.hasVariant && other.hasVariant {
		return key.variant == other.variant
	}

	return true
}
