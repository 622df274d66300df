package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/azhang30/q2-tsne/artifact"
	"github.com/azhang30/q2-tsne/plugin"
)

func readArtifact(t plugin.SemanticType, r io.Reader) (any, error) {
	switch t {
	case plugin.DistanceMatrix:
		return artifact.ReadDistanceMatrix(r)
	case plugin.PCoAResults:
		return artifact.ReadOrdination(r)
	default:
		return nil, fmt.Errorf("no reader for type %s", t)
	}
}

func isArtifact(v any) bool {
	switch v.(type) {
	case *artifact.DistanceMatrix, *artifact.OrdinationResults:
		return true
	}
	return false
}

func writeArtifact(w io.Writer, v any) error {
	switch v := v.(type) {
	case *artifact.DistanceMatrix:
		return artifact.WriteDistanceMatrix(w, v)
	case *artifact.OrdinationResults:
		return artifact.WriteOrdination(w, v)
	default:
		return fmt.Errorf("no writer for %T", v)
	}
}

func formatPrimitive(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
