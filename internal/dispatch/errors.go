package dispatch

import "errors"

var (
	ErrAcquisition    = errors.New("audio acquisition failed")
	ErrStorage        = errors.New("audio upload failed")
	ErrSubmit         = errors.New("job submission failed")
	ErrPollTransport  = errors.New("job poll failed")
	ErrDelivery       = errors.New("callback delivery failed")
	ErrQueueSaturated = errors.New("worker pool saturated")
	ErrShuttingDown   = errors.New("orchestrator shutting down")
)
