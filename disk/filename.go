package disk

import (
	"github.com/mediacache/imagecache-common/utils"
)

// FileNameGenerator maps a cache identifier to the base name of its files
// on disk. Generators must be deterministic and collision resistant; two
// identifiers mapping to the same name silently corrupt the cache.
type FileNameGenerator interface {
	Generate(identifier string) string
}

// SHA1FileNameGenerator names cache files by the SHA1 digest of the identifier
type SHA1FileNameGenerator struct{}

// Generate returns the base file name for the given identifier
func (generator *SHA1FileNameGenerator) Generate(identifier string) string {
	return utils.MakeHash(identifier)
}
