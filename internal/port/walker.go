package port

// SourceFile is one vault file handed to the indexer. Path is relative to
// the vault root.
type SourceFile struct {
	Path    string
	Content string
}

type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string
	RelPath string
	ModTime int64
	Size    int64
}
