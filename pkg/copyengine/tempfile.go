package copyengine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oneconcern/ephemeralcache/internal/randname"
)

// newTempFilePath builds a globally-unique temp file path under
// workingFolder (§3 "Temp files created by the copy engine are guaranteed
// deleted on every exit path"; §5 "temp file names MUST be globally unique
// per call"). UUID plus a short random suffix keeps names unique across
// concurrent calls without needing a shared counter.
func newTempFilePath(workingFolder string) string {
	name := fmt.Sprintf("ec-%s-%s.tmp", uuid.NewString(), randname.LetterString(6))
	return filepath.Join(workingFolder, name)
}

// removeTempFile deletes path, logging (not failing) if it cannot be
// removed — every exit path from the copy engine must attempt cleanup,
// but a cleanup failure must never mask the original copy outcome.
func removeTempFile(path string, logger *zap.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("copyengine: failed to remove temp file", zap.String("path", path), zap.Error(err))
	}
}
