package worker

const (
	DefaultNumRandomPlies = 12
	DefaultSoftNodeLimit  = 5000
	// NoNetwork is what the server sends when no network has been published.
	NoNetwork = "None"
)

// RunConfig is the generation configuration from the server. It is fetched
// fresh on every loop iteration.
type RunConfig struct {
	NumRandomPlies int    `json:"num_rand"`
	SoftNodeLimit  int    `json:"soft_nodes"`
	NetFile        string `json:"netfile"`
}

// DefaultRunConfig holds the values used for fields the server leaves out.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		NumRandomPlies: DefaultNumRandomPlies,
		SoftNodeLimit:  DefaultSoftNodeLimit,
		NetFile:        NoNetwork,
	}
}

// Heartbeat announces that this worker is alive.
type Heartbeat struct {
	Cores int    `json:"cores"`
	CPU   string `json:"cpu"`
}

// Report carries the progress made since the previous report.
type Report struct {
	CPU       string `json:"cpu"`
	Positions int64  `json:"positions"`
	Games     int64  `json:"games"`
	PPS       int64  `json:"pps"`
}
