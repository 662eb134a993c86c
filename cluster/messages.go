package cluster

import (
	"github.com/tsawler/go-nabu/checkpoints"
	"github.com/tsawler/go-nabu/training"
)

// Request and response bodies of the parameter server API. Losses travel in
// their persisted encoding since JSON cannot carry +Inf.

type stepMessage struct {
	Step uint64 `json:"step"`
}

type gradientRequest struct {
	Replica   string             `json:"replica" binding:"required"`
	Step      uint64             `json:"step"`
	Gradients training.Gradients `json:"gradients" binding:"required"`
}

type parametersMessage struct {
	Parameters training.Parameters `json:"parameters"`
}

type optimizerMessage struct {
	State *checkpoints.OptimizerState `json:"state"`
}

type positionMessage struct {
	Position uint64 `json:"position"`
}

type claimRequest struct {
	Step      uint64 `json:"step"`
	Frequency int    `json:"frequency" binding:"min=0"`
}

type claimResponse struct {
	Claimed bool `json:"claimed"`
}

type lossMessage struct {
	Loss float64 `json:"loss"`
}

type factorMessage struct {
	Factor float64 `json:"factor" binding:"gte=0,lte=1"`
}

type stateMessage struct {
	State   checkpoints.TrainingState `json:"state"`
	Reading bool                      `json:"reading"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}
