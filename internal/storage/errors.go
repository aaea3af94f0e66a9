package storage

import (
	"fmt"

	"github.com/bull/pdf-rag/internal/ragerr"
)

var (
	ErrQdrantUnreachable  = fmt.Errorf("%w: qdrant server unreachable", ragerr.ErrStore)
	ErrDimensionMismatch  = fmt.Errorf("%w: embedding dimension mismatch", ragerr.ErrStore)
	ErrCollectionMismatch = fmt.Errorf("%w: collection configuration mismatch", ragerr.ErrStore)
)
