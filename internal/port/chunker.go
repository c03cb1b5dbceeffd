package port

import "vaultrag/internal/domain"

type Chunker interface {
	Chunk(filePath, content string) []domain.Chunk
}
