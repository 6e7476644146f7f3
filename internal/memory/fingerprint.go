package memory

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/sundial-labs/memoria/internal/types"
	"github.com/sundial-labs/memoria/internal/vector"
)

// searchFingerprint keys the search cache by hashing the full query vector
// and every option that affects the result set. Hashing the whole vector
// (rather than sampling a few components) makes key collisions between
// distinct queries effectively impossible.
func searchFingerprint(q []float32, opts types.SearchOptions) string {
	h := blake3.New()
	h.Write(vector.Serialize(q))
	fmt.Fprintf(h, "|%d|%g|%t|%s|%s|%d|%s",
		opts.Limit, opts.Threshold, opts.IncludeMetadata,
		opts.ProjectID, opts.ChannelID, opts.Tier,
		strings.Join(opts.Tags, ","))
	return hex.EncodeToString(h.Sum(nil))
}
