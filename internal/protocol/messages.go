package protocol

import (
	"time"

	"github.com/strokesense/strokesense-core/internal/risk"
)

// AudioFrame represents PCM audio data streamed from the capture edge.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// RecognitionResult is one recognizer callback: the authoritative current
// text for the session, interim or final.
type RecognitionResult struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Final      bool      `json:"final"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorClass partitions recognition failures by recovery policy.
type ErrorClass string

const (
	ErrorClassNetwork    ErrorClass = "network"
	ErrorClassPermission ErrorClass = "permission"
	ErrorClassDevice     ErrorClass = "device"
	ErrorClassInternal   ErrorClass = "internal"
)

// Transient reports whether the class is eligible for automatic retry.
func (c ErrorClass) Transient() bool {
	return c == ErrorClassNetwork
}

// RecognitionError is a recognizer failure callback.
type RecognitionError struct {
	SessionID string     `json:"session_id"`
	Class     ErrorClass `json:"class"`
	Message   string     `json:"message"`
}

// Transcript is a finalized transcript emitted by the recording service,
// whether recorded or entered manually after a failed session.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Manual    bool      `json:"manual,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FacialUpdate carries a facial metrics reading from the face detector.
type FacialUpdate struct {
	Metrics   risk.FacialMetrics `json:"metrics"`
	Timestamp time.Time          `json:"timestamp"`
}

// PostureUpdate carries a posture metrics reading from the posture detector.
type PostureUpdate struct {
	Metrics   risk.PostureMetrics `json:"metrics"`
	Timestamp time.Time           `json:"timestamp"`
}

// AssessmentEvent is published on every fusion re-evaluation.
type AssessmentEvent struct {
	Assessment risk.Assessment `json:"assessment"`
	SessionID  string          `json:"session_id,omitempty"`
}

// DetectorKind identifies which modality a detector node provides.
type DetectorKind string

const (
	DetectorFacial  DetectorKind = "facial"
	DetectorPosture DetectorKind = "posture"
)

// DetectorAnnounce registers a detector node with the runtime.
type DetectorAnnounce struct {
	DetectorID string       `json:"detector_id"`
	Kind       DetectorKind `json:"kind"`
	Timestamp  time.Time    `json:"timestamp"`
}

// DetectorHeartbeat keeps a detector node marked healthy.
type DetectorHeartbeat struct {
	DetectorID string    `json:"detector_id"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix        = "audio.frame"
	SubjectRecognitionResultPrefix = "recognition.result"
	SubjectRecognitionErrorPrefix  = "recognition.error"
	SubjectTranscriptFinal         = "transcript.final"
	SubjectFacialMetrics           = "metrics.facial"
	SubjectPostureMetrics          = "metrics.posture"
	SubjectRiskAssessment          = "risk.assessment"
	SubjectDetectorAnnounce        = "detector.announce"
	SubjectDetectorHeartbeat       = "detector.heartbeat"
)
