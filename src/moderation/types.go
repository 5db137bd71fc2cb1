package moderation

// TextRequest is the structured-text submission sent to the moderation
// service's /moderate endpoint.
type TextRequest struct {
	Platform     string `json:"platform"`
	UserID       string `json:"user_id"`
	TargetUserID string `json:"target_user_id,omitempty"`
	ContentType  string `json:"content_type"`
	Content      string `json:"content"`
}

// TextResult is the service's verdict on a text submission.
type TextResult struct {
	Status    string  `json:"status"`
	RiskScore int     `json:"risk_score"`
	RiskLevel string  `json:"risk_level"`
	Toxicity  float64 `json:"toxicity"`
}

// Risk levels returned by the service, lowest to highest.
const (
	RiskCalm       = "Calm"
	RiskAggressive = "Aggressive"
	RiskEscalating = "Escalating"
)

// IsElevated reports whether a risk level warrants the visible warning
// affordance on the offending input.
func IsElevated(level string) bool {
	return level == RiskAggressive || level == RiskEscalating
}

// MediaRequest is a multipart media submission. Audio is always a WAV clip;
// at least one of Image and Audio must be present, the pipeline never sends
// an empty request.
type MediaRequest struct {
	Image   []byte
	Audio   []byte
	UserID  string
	Context string
}

// Empty reports whether the request carries no payload at all.
func (r *MediaRequest) Empty() bool {
	return len(r.Image) == 0 && len(r.Audio) == 0
}

// MediaResult is the service's verdict on a media submission. Probabilities
// are 0-100; audio toxicity is 0-1.
type MediaResult struct {
	AuthenticityLabel   string  `json:"authenticity_label"`
	DeepfakeProbability float64 `json:"deepfake_probability"`
	AbuseProbability    float64 `json:"abuse_probability"`
	AudioToxicity       float64 `json:"audio_toxicity"`
}

// LabelReal is the neutral authenticity category; anything else is
// actionable and triggers shielding.
const LabelReal = "Real"

// Actionable reports whether the verdict warrants a shield.
func (r *MediaResult) Actionable() bool {
	return r.AuthenticityLabel != "" && r.AuthenticityLabel != LabelReal
}

// Confidence is the composite score shown on the shield overlay: the
// maximum of the reported scores, with audio toxicity scaled to 0-100.
func (r *MediaResult) Confidence() float64 {
	max := r.DeepfakeProbability
	if r.AbuseProbability > max {
		max = r.AbuseProbability
	}
	if at := r.AudioToxicity * 100; at > max {
		max = at
	}
	return max
}
