package registry

import (
	"fmt"
	"strings"

	"EpiCast/pkg/objstore"
)

const (
	latestPointer  = "LATEST"
	metadataSuffix = "_metadata.json"
	modelDirPrefix = "model_for_"
)

// Layout maps logical registry entries to object keys.
type Layout struct {
	ModelRoot    string
	TuningRoot   string
	SnapshotRoot string
}

func DefaultLayout() Layout {
	return Layout{ModelRoot: "models", TuningRoot: "tunning_results", SnapshotRoot: "training-data"}
}

func (l Layout) modelDir(code string) string {
	return objstore.Join(l.ModelRoot, modelDirPrefix+code) + "/"
}

// ArtifactKey is where a model's serialized state lives.
func (l Layout) ArtifactKey(code, id string) string {
	return objstore.Join(l.ModelRoot, modelDirPrefix+code, id)
}

func (l Layout) MetadataKey(code, id string) string {
	return l.ArtifactKey(code, id) + metadataSuffix
}

func (l Layout) LatestKey(code string) string {
	return objstore.Join(l.ModelRoot, modelDirPrefix+code, latestPointer)
}

func (l Layout) TuningKey(code string) string {
	return objstore.Join(l.TuningRoot, code, fmt.Sprintf("%s_params.json", code))
}

func (l Layout) SnapshotKey(code string) string {
	return objstore.Join(l.SnapshotRoot, "code-"+code, fmt.Sprintf("cdc_occurrences_%s.csv", code))
}

// modelIDFromKey returns the id for an artifact key, or "" for metadata and pointers.
func (l Layout) modelIDFromKey(code, key string) string {
	name := strings.TrimPrefix(key, l.modelDir(code))
	if name == key || name == "" || name == latestPointer || strings.Contains(name, "/") || strings.HasSuffix(name, metadataSuffix) {
		return ""
	}
	return name
}

// codeFromKey extracts the disease code from any key under the model root.
func (l Layout) codeFromKey(key string) string {
	rest := strings.TrimPrefix(key, objstore.Join(l.ModelRoot, modelDirPrefix))
	if rest == key {
		return ""
	}
	code, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return code
}
