package arq

import (
	"time"

	"github.com/drexelwireless/smartlink/internal/estimator"
	"github.com/drexelwireless/smartlink/internal/radio"
)

// MCSConfig configures the per-peer MCS Chooser and the fixed indices
// used for broadcast and control traffic.
type MCSConfig struct {
	MinIdx, MaxIdx       radio.MCSIndex
	BroadcastIdx         radio.MCSIndex
	AckIdx               radio.MCSIndex
	UpThreshold          float64
	DownThreshold        float64
	Alpha                float64
	ProbFloor            float64
	DecisionEpochPackets int
	FastDecisionEpoch    int
	FastAdjustmentPeriod time.Duration
	UnreachableTimeout   time.Duration
	Seed                 int64
}

// Config bundles everything a Controller needs to run: window sizing,
// retransmission/ack timing, and the link-estimator and MCS parameters
// handed to each newly created peer window.
type Config struct {
	SendMaxWin int
	RecvWin    int

	RetxDelay          time.Duration
	AckDelay           time.Duration
	MaxRetransmissions int

	Horizons estimator.Horizons
	MCS      MCSConfig
}
