package gallery

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Alternate namespaces written with caller-supplied keys.
	BadgeKeyPrefix   = "rank-badges/"
	ExhibitKeyPrefix = "gallery/"

	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idRandomLen    = 6
)

// NewImageID mints a manifest item id: img_<unixMillis>_<6-char base36>.
// Collision-resistant enough for a single-admin workload, nothing more.
func NewImageID() string {
	var b strings.Builder
	for i := 0; i < idRandomLen; i++ {
		b.WriteByte(base36Alphabet[rand.Intn(len(base36Alphabet))])
	}
	return fmt.Sprintf("img_%d_%s", time.Now().UnixMilli(), b.String())
}

// BadgeKey mints a storage key for a rank-badge upload. ext includes the dot.
func BadgeKey(ext string) string {
	return BadgeKeyPrefix + uuid.New().String() + ext
}

// ExhibitKey mints a storage key for a gallery exhibit upload.
func ExhibitKey(ext string) string {
	return ExhibitKeyPrefix + uuid.New().String() + ext
}
