package core

import (
	"fmt"

	"github.com/google/uuid"
)

// NewLabel returns a unique debug label for a GPU resource, e.g. "blas.vertices.3f2c…".
// Labels show up in logs and in graphics debuggers.
func NewLabel(prefix string) string {
	return fmt.Sprintf("%s.%s", prefix, uuid.New().String())
}
