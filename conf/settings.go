package conf

// ContestSettings is the proctoring-relevant subset of a contest's
// configuration, fetched once at session init from the contest backend.
type ContestSettings struct {
	FullScreenModeEnabled bool `json:"fullScreenModeEnabled"`
	RequireCamera         bool `json:"requireCamera"`
	RequireMicrophone     bool `json:"requireMicrophone"`
	RequireScreenShare    bool `json:"requireScreenShare"`
	AiHintsEnabled        bool `json:"aiHintsEnabled"`

	AllowTaskShift                      bool `json:"allowTaskShift"`
	PreventBackwardShiftAfterSubmission bool `json:"preventBackwardShiftAfterSubmission"`

	AutoSubmitOnTimeout   bool `json:"autoSubmitOnTimeout"`
	MaxSubmissionsAllowed int  `json:"maxSubmissionsAllowed"`

	DurationSeconds int `json:"durationSeconds"`
}

// PermissiveDefaults is the documented fallback applied when the settings
// fetch fails. A session must never block on an unreachable backend, so the
// fallback disables every enforcement that would otherwise gate the
// AwaitingMedia -> Active transition.
func PermissiveDefaults() ContestSettings {
	return ContestSettings{
		FullScreenModeEnabled: false,
		RequireCamera:         false,
		RequireMicrophone:     false,
		RequireScreenShare:    false,
		AiHintsEnabled:        false,

		AllowTaskShift:                      true,
		PreventBackwardShiftAfterSubmission: false,

		AutoSubmitOnTimeout:   false,
		MaxSubmissionsAllowed: 0, // 0 means unlimited

		DurationSeconds: 2 * 60 * 60,
	}
}
