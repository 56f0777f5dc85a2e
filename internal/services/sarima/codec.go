package sarima

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"EpiCast/internal/domain/models"
)

const artifactFormat = "sarima-css/v1"

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

type artifact struct {
	Format string                 `json:"format"`
	Order  models.Hyperparameters `json:"order"`
	Params Params                 `json:"params"`
	Y      []float64              `json:"y"`
}

// MarshalBinary encodes the model as zstd-compressed JSON. The observations are
// kept so the decoded model reproduces forecasts bit for bit.
func (m *Model) MarshalBinary() ([]byte, error) {
	raw, err := json.Marshal(artifact{Format: artifactFormat, Order: m.order, Params: m.params, Y: m.y})
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

// Decode parses an artifact written by MarshalBinary.
func Decode(b []byte) (*Model, error) {
	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	var a artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	if a.Format != artifactFormat {
		return nil, fmt.Errorf("%w: format %q", ErrBadArtifact, a.Format)
	}
	if err := validateOrder(a.Order); err != nil {
		return nil, err
	}
	if a.Params.len() != a.Order.P+a.Order.SeasonalP+a.Order.Q+a.Order.SeasonalQ ||
		len(a.Params.AR) != a.Order.P || len(a.Params.SAR) != a.Order.SeasonalP ||
		len(a.Params.MA) != a.Order.Q || len(a.Params.SMA) != a.Order.SeasonalQ {
		return nil, fmt.Errorf("%w: coefficient count does not match %s", ErrBadArtifact, a.Order)
	}
	if len(a.Y) <= a.Order.D+a.Order.SeasonalD*a.Order.S {
		return nil, fmt.Errorf("%w: %d observations", ErrBadArtifact, len(a.Y))
	}
	m := newModel(a.Y, a.Order, a.Params)
	m.computeResiduals()
	return m, nil
}
