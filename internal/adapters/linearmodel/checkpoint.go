package linearmodel

import (
	"encoding/json"

	perr "vesselclass/internal/platform/errors"
)

// snapshot is the checkpoint wire form. The class list rides along so a
// restore against a different objective fails loudly instead of silently
// permuting the logit axis
type snapshot struct {
	Step    int64       `json:"step"`
	Classes []string    `json:"classes"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// Checkpoint serialises the current parameters
func (m *Model) Checkpoint() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload, err := json.Marshal(snapshot{
		Step:    m.step,
		Classes: m.objective.Classes,
		Weights: m.weights,
		Bias:    m.bias,
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnknown, "%s: marshal checkpoint", m.Name())
	}
	return payload, nil
}

// Restore replaces the parameters with a checkpoint payload
func (m *Model) Restore(payload []byte) error {
	var snap snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDataIntegrity, "%s: decode checkpoint", m.Name())
	}
	if len(snap.Classes) != len(m.objective.Classes) {
		return perr.DataIntegrityf(
			"%s: checkpoint has %d classes, objective has %d", m.Name(), len(snap.Classes), len(m.objective.Classes))
	}
	for i, c := range snap.Classes {
		if c != m.objective.Classes[i] {
			return perr.DataIntegrityf("%s: checkpoint class %d is %q, objective has %q",
				m.Name(), i, c, m.objective.Classes[i])
		}
	}
	if len(snap.Weights) != len(snap.Classes) || len(snap.Bias) != len(snap.Classes) {
		return perr.DataIntegrityf("%s: checkpoint parameter shapes do not match its class list", m.Name())
	}
	for _, row := range snap.Weights {
		if len(row) != m.props.FeatureDimensions {
			return perr.DataIntegrityf(
				"%s: checkpoint weight row has %d dims, model expects %d",
				m.Name(), len(row), m.props.FeatureDimensions)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.step = snap.Step
	m.weights = snap.Weights
	m.bias = snap.Bias
	return nil
}
