package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func BulkProgressKey(operationID uuid.UUID) string {
	return fmt.Sprintf("bulk:progress:%s", operationID)
}

func ActiveOperationKey() string {
	return "bulk:active"
}
