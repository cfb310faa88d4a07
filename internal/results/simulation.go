package results

import (
	"github.com/docsim/docsim-client/internal/models"
)

// SimulationLogName is the output name under which the solver log is shown.
const SimulationLogName = "simulation_log"

// SimulationView projects a simulation task into its log and the result
// files the solver reported. Artifacts are only listed once the run completed.
func SimulationView(sim *models.SimulationTask) *View {
	if sim == nil {
		return nil
	}
	v := &View{
		TaskID:  sim.SimTaskID,
		Status:  string(sim.Status),
		Message: sim.Message,
	}
	if sim.Log != "" {
		v.Outputs = append(v.Outputs, Output{Name: SimulationLogName, Kind: KindText, Content: sim.Log})
	}
	if sim.Status != models.StatusCompleted {
		return v
	}
	for _, k := range sim.OutputFiles.Kinds() {
		v.Artifacts = append(v.Artifacts, models.ArtifactRef{
			Kind:     k,
			TaskID:   sim.SimTaskID,
			FileName: sim.SimTaskID + "." + string(k),
		})
	}
	return v
}
