package ingestion

import (
	"strconv"

	"github.com/google/uuid"
)

// recordID returns the id for chunk index of source. Ids are deterministic
// so re-ingesting a file overwrites its previous chunks. When unique is set
// a random suffix is appended and every run adds new records.
func recordID(source string, index int, unique bool) string {
	id := source + "#" + strconv.Itoa(index)
	if unique {
		id += "#" + uuid.NewString()
	}
	return id
}
