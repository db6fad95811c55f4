package objectkey

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Generator defines the interface for remote object key strategies.
// Keys must be unique per upload: two uploads of the same bytes get
// different keys, so destroying one never removes the other.
type Generator interface {
	GenerateKey(objectID uuid.UUID, metadata KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	Folder   string
	FileName string
}

// FlatGenerator lays keys out as {folder}/{objectID}_{filename}
type FlatGenerator struct{}

func NewFlatGenerator() *FlatGenerator {
	return &FlatGenerator{}
}

func (g *FlatGenerator) GenerateKey(objectID uuid.UUID, metadata KeyMetadata) string {
	name := objectID.String()
	if metadata.FileName != "" {
		name = fmt.Sprintf("%s_%s", name, sanitizeFilename(metadata.FileName))
	}
	return joinFolder(metadata.Folder, name)
}

// ShardedGenerator provides Git-style sharding inside the folder:
// {folder}/ab/cd1234ef5678..._{filename}
type ShardedGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewShardedGenerator() *ShardedGenerator {
	return &ShardedGenerator{ShardLength: 2}
}

func (g *ShardedGenerator) GenerateKey(objectID uuid.UUID, metadata KeyMetadata) string {
	idStr := strings.ReplaceAll(objectID.String(), "-", "")

	shardLength := g.ShardLength
	if shardLength <= 0 || shardLength >= len(idStr) {
		shardLength = 2
	}

	filename := idStr[shardLength:]
	if metadata.FileName != "" {
		filename = fmt.Sprintf("%s_%s", filename, sanitizeFilename(metadata.FileName))
	}
	return joinFolder(metadata.Folder, idStr[:shardLength]+"/"+filename)
}

// FuncGenerator allows callers to provide their own key function
type FuncGenerator func(objectID uuid.UUID, metadata KeyMetadata) string

func (f FuncGenerator) GenerateKey(objectID uuid.UUID, metadata KeyMetadata) string {
	return f(objectID, metadata)
}

// NewRecommendedGenerator returns the generator used when none is configured
func NewRecommendedGenerator() Generator {
	return NewShardedGenerator()
}

func joinFolder(folder, rest string) string {
	var parts []string
	for _, component := range strings.Split(folder, "/") {
		if component = strings.TrimSpace(component); component != "" && component != "." && component != ".." {
			parts = append(parts, sanitizePathComponent(component))
		}
	}
	parts = append(parts, rest)
	return path.Join(parts...)
}

var unsafeChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
	"#", "_",
	"%", "_",
)

func sanitizeFilename(filename string) string {
	return unsafeChars.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(unsafeChars.Replace(component))
}
