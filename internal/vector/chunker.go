package vector

// Chunker splits long text into overlapping fixed-size windows. Splitting is
// rune-based and fully deterministic: the same input and config always yield
// the same chunk sequence, which the indexer relies on for idempotent
// re-indexing.
type Chunker struct {
	size    int
	overlap int
}

const (
	DefaultChunkSize    = 400
	DefaultChunkOverlap = 80
)

// NewChunker creates a Chunker. Nonsensical configs (size <= 0, overlap < 0,
// overlap >= size) fall back to the defaults.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 4
		}
	}
	return Chunker{size: size, overlap: overlap}
}

// Split returns the chunk sequence for text. Input shorter than the chunk
// size yields exactly one chunk; empty input yields none. Consecutive chunks
// share overlap runes, and no leading or trailing content is ever dropped.
func (c Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; ; start += step {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			return chunks
		}
		chunks = append(chunks, string(runes[start:end]))
	}
}
